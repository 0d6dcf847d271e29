package domain

import "fmt"

// Modality identifies which kind of payload an Input carries.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"
)

// Input is one inbound user payload. Exactly one variant is populated and the
// value is immutable once built; use the TextInput/ImageInput/AudioInput/VideoInput
// constructors.
type Input struct {
	kind  Modality
	text  string // text body, or image/video reference
	audio []byte
}

// TextInput wraps a plain text message.
func TextInput(text string) Input { return Input{kind: ModalityText, text: text} }

// ImageInput wraps an image reference (URL or platform identifier).
func ImageInput(ref string) Input { return Input{kind: ModalityImage, text: ref} }

// VideoInput wraps a video reference.
func VideoInput(ref string) Input { return Input{kind: ModalityVideo, text: ref} }

// AudioInput wraps raw audio bytes. The bytes are copied.
func AudioInput(data []byte) Input {
	buf := make([]byte, len(data))
	copy(buf, data)
	return Input{kind: ModalityAudio, audio: buf}
}

// Kind reports the modality of the input.
func (in Input) Kind() Modality { return in.kind }

// Text returns the text body. Empty for non-text inputs.
func (in Input) Text() string {
	if in.kind != ModalityText {
		return ""
	}
	return in.text
}

// Ref returns the image or video reference. Empty for other inputs.
func (in Input) Ref() string {
	if in.kind != ModalityImage && in.kind != ModalityVideo {
		return ""
	}
	return in.text
}

// Audio returns a copy of the audio payload. Nil for non-audio inputs.
func (in Input) Audio() []byte {
	if in.kind != ModalityAudio {
		return nil
	}
	buf := make([]byte, len(in.audio))
	copy(buf, in.audio)
	return buf
}

// Validate rejects the zero Input, which carries no variant.
func (in Input) Validate() error {
	switch in.kind {
	case ModalityText, ModalityImage, ModalityAudio, ModalityVideo:
		return nil
	default:
		return fmt.Errorf("%w: input has no modality", ErrInvalidInput)
	}
}

// ParseModality converts a wire string to a Modality.
func ParseModality(s string) (Modality, error) {
	switch m := Modality(s); m {
	case ModalityText, ModalityImage, ModalityAudio, ModalityVideo:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown modality %q", ErrInvalidInput, s)
	}
}
