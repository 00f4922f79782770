package status

import (
	"log/slog"

	"github.com/khaledhikmat/vs-liveness/service/display"
	"github.com/khaledhikmat/vs-liveness/service/lgr"
)

type channelService struct {
	doc      display.IService
	targetID string
}

// NewChannel returns a status channel writing to the text element targetID.
func NewChannel(doc display.IService, targetID string) IService {
	return &channelService{
		doc:      doc,
		targetID: targetID,
	}
}

func (svc *channelService) Update(message string) {
	svc.doc.SetText(svc.targetID, message)
	lgr.Logger.Info(
		"status",
		slog.String("target", svc.targetID),
		slog.String("message", message),
	)
}

func (svc *channelService) Target() string {
	return svc.targetID
}
