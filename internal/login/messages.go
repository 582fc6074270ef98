package login

const (
	msgAskPhone        = "Send the phone number of the account in international format, for example +989123456789."
	msgConnecting      = "Connecting..."
	msgConnectFailed   = "Could not connect to the server. Please try again later."
	msgCodeSent        = "A login code was sent to your account. Send it here."
	msgInvalidPhone    = "The phone number is invalid. Start again."
	msgAskPassword     = "Two-step verification is enabled. Send your password."
	msgWrongPassword   = "Wrong password. Try again."
	msgInvalidCode     = "The code is invalid. Start again."
	msgCodeExpired     = "The code has expired. Start again."
	msgBannedNumber    = "This phone number is banned."
	msgNotRegistered   = "This phone number has no account. Start again with a registered number."
	msgRateLimitedFmt  = "Too many attempts. Try again in %s."
	msgInternalError   = "Something went wrong. Start again."
	msgAskLabel        = "Send a short name for this account (up to 32 characters)."
	msgLabelEmpty      = "The name cannot be empty. Send a name for this account."
	msgLabelTooLong    = "The name is longer than 32 characters. Send a shorter one."
	msgLabelTaken      = "You already have an account with this name. Send a different one."
	msgLoginSuccessful = "Login successful."
	msgLoginExpired    = "The login was cancelled after a period of inactivity."
)
