package entities

type NormalizedForm struct {
	Code       string
	Name       string
	Normalized string
}
