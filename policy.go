package main

// action is the closed set of operations the authorization policy rules over.
type action int

const (
	actionListUsers action = iota
	actionCreateUser
	actionDeleteUser
	actionChangeRole
	actionChangePassword
	actionReadSelf
	actionCreateAPIToken
	actionListAPITokens
	actionDeleteAPIToken
)

// authorize decides whether actor may perform act. targetUserID identifies
// the user the action operates on and is only consulted for self-or-admin
// actions. The decision is evaluated before any store mutation and a deny
// carries no detail about the target.
func authorize(actor *User, act action, targetUserID int64) bool {
	if actor == nil {
		return false
	}
	switch act {
	case actionListUsers, actionCreateUser, actionDeleteUser, actionChangeRole,
		actionCreateAPIToken, actionListAPITokens, actionDeleteAPIToken:
		return actor.Role == RoleAdmin
	case actionChangePassword:
		return actor.Role == RoleAdmin || actor.ID == targetUserID
	case actionReadSelf:
		return actor.ID == targetUserID
	}
	return false
}
