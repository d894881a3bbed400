package protocol

import "fmt"

var loginDeniedMessages = []string{
	"Incorrect name/password.",
	"Someone is already using this account.",
	"Your account has been blocked.",
	"Your account credentials are invalid.",
	"Communication problem.",
	"The IGR concurrency limit has been met.",
	"The IGR time limit has been met.",
	"General IGR authentication failure.",
	"Couldn't carry out your request.",
}

var deleteResultMessages = []string{
	"That character password is invalid.",
	"That character doesn't exist.",
	"That character is being played right now.",
	"That character is not old enough to delete. The character must be 7 days old before it can be deleted.",
	"That character is currently queued for backup and cannot be deleted.",
	"Couldn't carry out your request.",
}

var popupMessages = []string{
	"Incorrect password.",
	"This character does not exist any more!",
	"This character already exists.",
	"Could not attach to game server.",
	"Could not attach to game server.",
	"A character is already logged in.",
	"Synchronization Error.",
	"You have been idle for too long.",
	"Could not attach to game server.",
	"Character transfer in progress.",
}

// Message returns the text shown to the user for this error.
func (e LoginError) Message() string {
	var table []string
	switch e.PacketID {
	case PktLoginError:
		table = loginDeniedMessages
	case PktDeleteResult:
		table = deleteResultMessages
	case PktPopupMessage:
		table = popupMessages
	}
	if int(e.Code) < len(table) {
		return table[e.Code]
	}
	return fmt.Sprintf("Login failed (packet 0x%02X, code %d).", e.PacketID, e.Code)
}
