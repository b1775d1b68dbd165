package models

// SeniorDetails is the demographic and contact data a family member collects for a senior.
type SeniorDetails struct {
	PhoneNumber string  `json:"phoneNumber" binding:"required"`
	Name        string  `json:"name"`
	Gender      string  `json:"gender"`
	DateOfBirth string  `json:"dateOfBirth"`
	Email       string  `json:"email"`
	Address     Address `json:"address"`
}

// ProfileInput is the profile-setup form submitted after a first OTP login.
type ProfileInput struct {
	Name        string  `json:"name" binding:"required"`
	Gender      string  `json:"gender"`
	DateOfBirth string  `json:"dateOfBirth"`
	Email       string  `json:"email"`
	Address     Address `json:"address"`
}

// PreRecordInput is what an administrator supplies to create a placeholder profile.
type PreRecordInput struct {
	Role          Role    `json:"role" binding:"required"`
	PhoneNumber   string  `json:"phoneNumber" binding:"required"`
	Name          string  `json:"name" binding:"required"`
	Gender        string  `json:"gender"`
	DateOfBirth   string  `json:"dateOfBirth"`
	Address       Address `json:"address"`
	CareManagerID string  `json:"careManagerId"`
}
