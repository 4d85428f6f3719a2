package domain

import "errors"

var ErrMissingFields = errors.New("missing required fields")

type SendTextRequest struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

func (r SendTextRequest) Validate() error {
	if r.To == "" || r.Content == "" {
		return ErrMissingFields
	}
	return nil
}

type SendMediaRequest struct {
	To       string      `json:"to"`
	MediaURL string      `json:"mediaUrl"`
	Kind     MessageKind `json:"kind"`
	Caption  string      `json:"caption,omitempty"`
}

func (r SendMediaRequest) Validate() error {
	if r.To == "" || r.MediaURL == "" || r.Kind == "" {
		return ErrMissingFields
	}
	return nil
}

type SendTemplateRequest struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Params   map[string]string `json:"params,omitempty"`
}

func (r SendTemplateRequest) Validate() error {
	if r.To == "" || r.Template == "" {
		return ErrMissingFields
	}
	return nil
}
