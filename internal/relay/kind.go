package relay

import "fmt"

// Kind is the closed set of relayable message kinds.
type Kind int

const (
	KindText Kind = iota
	KindPhoto
	KindVideo
	KindDocument
	KindAudio
	KindVoice
	KindSticker
)

// Kinds lists every Kind in declaration order.
var Kinds = []Kind{KindText, KindPhoto, KindVideo, KindDocument, KindAudio, KindVoice, KindSticker}

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindPhoto:
		return "photo"
	case KindVideo:
		return "video"
	case KindDocument:
		return "document"
	case KindAudio:
		return "audio"
	case KindVoice:
		return "voice"
	case KindSticker:
		return "sticker"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a wire name to a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("relay: unknown message kind %q", s)
}

// IsMedia reports whether k is subject to safe-mode blocking.
func (k Kind) IsMedia() bool {
	switch k {
	case KindText:
		return false
	case KindPhoto, KindVideo, KindDocument, KindAudio, KindVoice, KindSticker:
		return true
	}
	return false
}

// Annotatable reports whether a supporter annotation may accompany k.
func (k Kind) Annotatable() bool {
	switch k {
	case KindText, KindSticker:
		return true
	case KindPhoto, KindVideo, KindDocument, KindAudio, KindVoice:
		return false
	}
	return false
}

// placeholder is what a safe-mode recipient sees instead of the media.
func (k Kind) placeholder() string {
	switch k {
	case KindPhoto:
		return "📷 [Photo blocked by Safe Mode]"
	case KindVideo:
		return "🎥 [Video blocked by Safe Mode]"
	case KindDocument:
		return "📄 [Document blocked by Safe Mode]"
	case KindAudio:
		return "🎵 [Audio blocked by Safe Mode]"
	case KindVoice:
		return "🎤 [Voice message blocked by Safe Mode]"
	case KindSticker:
		return "😀 [Sticker blocked by Safe Mode]"
	case KindText:
	}
	return ""
}

// blockedNotice is what the sender sees when its media was blocked.
func (k Kind) blockedNotice() string {
	switch k {
	case KindPhoto:
		return "📷 Your photo was blocked by your partner's Safe Mode."
	case KindVideo:
		return "🎥 Your video was blocked by your partner's Safe Mode."
	case KindDocument:
		return "📄 Your document was blocked by your partner's Safe Mode."
	case KindAudio:
		return "🎵 Your audio was blocked by your partner's Safe Mode."
	case KindVoice:
		return "🎤 Your voice message was blocked by your partner's Safe Mode."
	case KindSticker:
		return "😀 Your sticker was blocked by your partner's Safe Mode."
	case KindText:
	}
	return ""
}
