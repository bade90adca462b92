package tgui

import "errors"

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes,
// measured over the full "scope:action:payload" string.
const MaxCallbackDataLen = 64

// MaxButtonTextRunes keeps inline button labels readable on mobile clients.
const MaxButtonTextRunes = 32

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")
