package session

// NotifierFuncs adapts plain functions to interfaces.Notifier. Nil fields are skipped.
type NotifierFuncs struct {
	LoginSuccess func()
	Logout       func()
}

// OnLoginSuccess calls LoginSuccess.
func (n NotifierFuncs) OnLoginSuccess() {
	if n.LoginSuccess != nil {
		n.LoginSuccess()
	}
}

// OnLogout calls Logout.
func (n NotifierFuncs) OnLogout() {
	if n.Logout != nil {
		n.Logout()
	}
}
