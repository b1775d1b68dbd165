// models/user.go
package models

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleSenior      Role = "senior"
	RoleFamily      Role = "family"
	RoleCareManager Role = "caremanager"
)

// ParseRole converts a free-form role string into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleSenior:
		return RoleSenior, nil
	case RoleFamily:
		return RoleFamily, nil
	case RoleCareManager:
		return RoleCareManager, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// ProfileOrigin records how a profile key was derived.
type ProfileOrigin string

const (
	// OriginVerified profiles are keyed by the subject of a verified phone identity.
	OriginVerified ProfileOrigin = "verified"
	// OriginAdmin profiles were created by an administrator before the owner ever
	// authenticated and carry a synthetic key.
	OriginAdmin ProfileOrigin = "admin"
)

// AdminKeyPrefix prefixes synthetic keys of administrative pre-records.
const AdminKeyPrefix = "adm_"

// Field names shared by every profile store backend.
const (
	FieldID                  = "id"
	FieldPhoneNumber         = "phoneNumber"
	FieldRole                = "role"
	FieldOrigin              = "origin"
	FieldName                = "name"
	FieldLinkingCode         = "linkingCode"
	FieldLinkingCodeIssuedAt = "linkingCodeIssuedAt"
	FieldLinkedFamilyIDs     = "linkedFamilyIds"
	FieldLinkedSeniorIDs     = "linkedSeniorIds"
	FieldAssignedSeniorIDs   = "assignedSeniorIds"
	FieldCareManagerID       = "careManagerId"
	FieldCareManagerPhone    = "careManagerPhone"
	FieldDeviceTokens        = "deviceTokens"
	FieldUpdatedAt           = "updatedAt"
)

type Address struct {
	Line1      string `bson:"line1,omitempty" json:"line1,omitempty" firestore:"line1,omitempty"`
	Line2      string `bson:"line2,omitempty" json:"line2,omitempty" firestore:"line2,omitempty"`
	City       string `bson:"city,omitempty" json:"city,omitempty" firestore:"city,omitempty"`
	State      string `bson:"state,omitempty" json:"state,omitempty" firestore:"state,omitempty"`
	PostalCode string `bson:"postalCode,omitempty" json:"postalCode,omitempty" firestore:"postalCode,omitempty"`
	Country    string `bson:"country,omitempty" json:"country,omitempty" firestore:"country,omitempty"`
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// UserProfile is the durable account record for every role.
type UserProfile struct {
	ID          string        `bson:"id" json:"id" firestore:"id"`
	PhoneNumber string        `bson:"phoneNumber" json:"phoneNumber" firestore:"phoneNumber"`
	Role        Role          `bson:"role" json:"role" firestore:"role"`
	Origin      ProfileOrigin `bson:"origin" json:"origin" firestore:"origin"`

	Name        string  `bson:"name,omitempty" json:"name,omitempty" firestore:"name,omitempty"`
	Gender      string  `bson:"gender,omitempty" json:"gender,omitempty" firestore:"gender,omitempty"`
	DateOfBirth string  `bson:"dateOfBirth,omitempty" json:"dateOfBirth,omitempty" firestore:"dateOfBirth,omitempty"`
	Email       string  `bson:"email,omitempty" json:"email,omitempty" firestore:"email,omitempty"`
	Address     Address `bson:"address,omitempty" json:"address,omitempty" firestore:"address,omitempty"`

	// Senior only.
	LinkingCode         string     `bson:"linkingCode,omitempty" json:"linkingCode,omitempty" firestore:"linkingCode,omitempty"`
	LinkingCodeIssuedAt *time.Time `bson:"linkingCodeIssuedAt,omitempty" json:"linkingCodeIssuedAt,omitempty" firestore:"linkingCodeIssuedAt,omitempty"`
	LinkedFamilyIDs     []string   `bson:"linkedFamilyIds,omitempty" json:"linkedFamilyIds,omitempty" firestore:"linkedFamilyIds,omitempty"`
	CareManagerID       string     `bson:"careManagerId,omitempty" json:"careManagerId,omitempty" firestore:"careManagerId,omitempty"`
	CareManagerPhone    string     `bson:"careManagerPhone,omitempty" json:"careManagerPhone,omitempty" firestore:"careManagerPhone,omitempty"`

	// Family only.
	LinkedSeniorIDs []string `bson:"linkedSeniorIds,omitempty" json:"linkedSeniorIds,omitempty" firestore:"linkedSeniorIds,omitempty"`

	// Care manager only.
	AssignedSeniorIDs []string `bson:"assignedSeniorIds,omitempty" json:"assignedSeniorIds,omitempty" firestore:"assignedSeniorIds,omitempty"`

	DeviceTokens []string `bson:"deviceTokens,omitempty" json:"-" firestore:"deviceTokens,omitempty"`
	CreatedBy    string   `bson:"createdBy,omitempty" json:"createdBy,omitempty" firestore:"createdBy,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt" firestore:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt" firestore:"updatedAt"`
}

// IsPreRecord reports whether p is an administrative pre-record.
func (p *UserProfile) IsPreRecord() bool {
	return p.Origin == OriginAdmin
}

// Clone returns a deep copy so callers can keep a snapshot for rollback.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.LinkedFamilyIDs = append([]string(nil), p.LinkedFamilyIDs...)
	c.LinkedSeniorIDs = append([]string(nil), p.LinkedSeniorIDs...)
	c.AssignedSeniorIDs = append([]string(nil), p.AssignedSeniorIDs...)
	c.DeviceTokens = append([]string(nil), p.DeviceTokens...)
	if p.LinkingCodeIssuedAt != nil {
		t := *p.LinkingCodeIssuedAt
		c.LinkingCodeIssuedAt = &t
	}
	return &c
}

// Contains reports whether ids holds id.
func Contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// VerifiedIdentity is the outcome of a successful phone challenge. It is never persisted.
type VerifiedIdentity struct {
	SubjectID   string `json:"subjectId"`
	PhoneNumber string `json:"phoneNumber"`
}
