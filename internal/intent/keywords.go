package intent

import (
	"regexp"
	"strings"
)

// Reply is the outcome of matching a short confirmation message.
type Reply int

const (
	ReplyNone Reply = iota
	ReplyConfirm
	ReplyCancel
)

var (
	confirmPattern = regexp.MustCompile(`(?i)^(ya|iya|yep|yap|yes|ok|oke|okay|oks|setuju|benar|betul|bener|lanjut|simpan|konfirmasi|confirm|y)[\s.,!?]*$`)
	cancelPattern  = regexp.MustCompile(`(?i)^(tidak|gak|ngak|nggak|ga|nope|no|batal|cancel|batalkan|jangan|stop|n)[\s.,!?]*$`)
)

// MatchConfirmation recognizes one-word confirmations and cancellations.
// Callers use it only while an action is pending.
func MatchConfirmation(text string) Reply {
	t := strings.TrimSpace(text)
	switch {
	case confirmPattern.MatchString(t):
		return ReplyConfirm
	case cancelPattern.MatchString(t):
		return ReplyCancel
	}
	return ReplyNone
}
