package app

// Reply-keyboard labels. Buttons are matched by exact text.
const (
	btnStart    = "▶ Start"
	btnCancel   = "✖ Cancel"
	btnHelp     = "❔ Help"
	btnAccounts = "👤 Accounts"
)

const (
	msgWelcome = "Welcome to the group creator bot.\n\nPress Start to log in and create groups, or open Accounts to manage saved logins."
	msgHelp    = "How it works:\n\n" +
		"1. Press Start and send your phone number, then the login code (and your password if two-step verification is on).\n" +
		"2. Once logged in, the bot creates groups in the background and reports progress here.\n" +
		"3. Press Cancel at any time to stop the running batch or an unfinished login.\n\n" +
		"Send /help for the full command list."
	msgUseMenu         = "Use the menu buttons below."
	msgBusy            = "A process is already running for you. Wait for it to finish or press Cancel."
	msgCancelled       = "The current operation was cancelled."
	msgNothingToCancel = "There is nothing to cancel."
	msgGenericError    = "Something went wrong. Please try again."

	msgResuming        = "Signing in with the saved session..."
	msgSessionExpired  = "Your saved session has expired. Please log in again."
	msgSessionBanned   = "This account is banned or was logged out; its saved session was removed."
	msgSessionBroken   = "Could not connect with the saved session. Please log in again."
	msgAccountMissing  = "That account is no longer stored."
	msgStopping        = "Stopping the batch..."
	msgNotRunning      = "No batch is running for this account."
	msgHistoryDisabled = "History is not enabled on this bot."
	msgHistoryEmpty    = "No history yet."

	msgBatchStartedFmt  = "Creating %d groups for %s, estimated %s to %s."
	msgBatchProgressFmt = "Progress: %d of %d groups created."
	msgBatchPausedFmt   = "Paused: the server limited requests for %s. Resuming around %s."
	msgBatchStepFailFmt = "Could not create group %d. Continuing after a short pause."
	msgBatchRestricted  = "This account is restricted and cannot create groups right now."
	msgBatchInvalidated = "This account was banned or logged out; its saved session was removed."
	msgBatchCancelled   = "Group creation was cancelled."
	msgBatchDoneFmt     = "Group creation finished for %s: %d created, %d failed, took %s."
)
