package domain

// EnqueueRequest is the client contract for creating a figure.
type EnqueueRequest struct {
	ImageURL    string   `json:"imageUrl" validate:"required,max=2048"`
	Name        string   `json:"name" validate:"required,max=120"`
	Tagline     string   `json:"tagline" validate:"required,max=200"`
	Style       string   `json:"style" validate:"omitempty,max=30"`
	Accessories []string `json:"accessories" validate:"max=10,dive,required,max=60"`
	Size        string   `json:"size" validate:"omitempty,oneof=1024x1024 1024x1536 1536x1024"`

	// Country is resolved from the caller's address, not the body.
	Country string `json:"-" validate:"-"`
}
