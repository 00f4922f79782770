package status

type IService interface {
	Update(message string)
	Target() string
}
