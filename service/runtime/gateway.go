package runtime

import (
	"reflect"
	"sync"
)

// Gateway is the capability-checked facade over a Source.
type Gateway struct {
	src Source

	mu  sync.Mutex
	sdk *SDK
}

func NewGateway(src Source) *Gateway {
	return &Gateway{
		src: src,
	}
}

// Get resolves every required capability. The result is memoized after the
// first complete resolution; a failed resolution is retried on the next call.
func (g *Gateway) Get() (*SDK, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sdk != nil {
		return g.sdk, nil
	}

	var missing []string
	sdk := &SDK{}

	bind(g.src, NameLoadDetectionModel, &sdk.LoadDetectionModel, &missing)
	bind(g.src, NameDetectFace, &sdk.DetectFace, &missing)
	bind(g.src, NameDetectFaceBase64, &sdk.DetectFaceBase64, &missing)
	bind(g.src, NameLoadLivenessModel, &sdk.LoadLivenessModel, &missing)
	bind(g.src, NamePredictLiveness, &sdk.PredictLiveness, &missing)
	bind(g.src, NameLoadLandmarkModel, &sdk.LoadLandmarkModel, &missing)
	bind(g.src, NamePredictLandmarkBase64, &sdk.PredictLandmarkBase64, &missing)
	bind(g.src, NameLoadFeatureModel, &sdk.LoadFeatureModel, &missing)
	bind(g.src, NameExtractFeatureBase64, &sdk.ExtractFeatureBase64, &missing)
	bind(g.src, NameMatchFeature, &sdk.MatchFeature, &missing)
	bind(g.src, NameLoadImageLibrary, &sdk.LoadImageLibrary, &missing)

	if len(missing) > 0 {
		return nil, &NotReadyError{Missing: missing}
	}

	g.sdk = sdk
	return sdk, nil
}

func bind[T any](src Source, name string, dst *T, missing *[]string) {
	fn, ok := resolve[T](src, name)
	if !ok {
		*missing = append(*missing, name)
		return
	}
	*dst = fn
}

// resolve looks name up and converts it to the function type T. Plain func
// literals with the same signature are accepted; nil funcs are not.
func resolve[T any](src Source, name string) (T, bool) {
	var zero T
	if src == nil {
		return zero, false
	}

	v, ok := src.Lookup(name)
	if !ok || v == nil {
		return zero, false
	}

	rv := reflect.ValueOf(v)
	target := reflect.TypeOf(zero)
	if rv.Kind() != reflect.Func || rv.IsNil() || !rv.Type().ConvertibleTo(target) {
		return zero, false
	}

	return rv.Convert(target).Interface().(T), true
}
