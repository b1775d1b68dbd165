package handlers

import (
	userRepo "carelink/database/repository/user"
	"carelink/services/session"
)

// HandlerBundle groups the endpoint handlers and what the route middleware needs.
type HandlerBundle struct {
	UserRepo       userRepo.UserRepository
	Sessions       session.Store
	AdminTokenHash string
	MaxRequestsMin int

	Auth         *AuthHandler
	Registration *RegistrationHandler
	Linking      *LinkingHandler
	Devices      *DeviceHandler
	Admin        *AdminHandler
}
