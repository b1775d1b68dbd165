package reconcile

import (
	"carelink/models"
)

// Merge folds an administrative placeholder into the verified-identity profile fresh.
// Key, phone and origin come from fresh. Non-empty administrator-supplied scalars win,
// set-valued fields are unioned and the earliest creation time is kept. The
// placeholder's linking code is never carried over.
func Merge(placeholder, fresh *models.UserProfile) *models.UserProfile {
	out := fresh.Clone()
	if placeholder == nil {
		return out
	}

	out.Name = prefer(placeholder.Name, out.Name)
	out.Gender = prefer(placeholder.Gender, out.Gender)
	out.DateOfBirth = prefer(placeholder.DateOfBirth, out.DateOfBirth)
	out.Email = prefer(placeholder.Email, out.Email)
	out.CareManagerID = prefer(placeholder.CareManagerID, out.CareManagerID)
	out.CareManagerPhone = prefer(placeholder.CareManagerPhone, out.CareManagerPhone)
	out.CreatedBy = prefer(placeholder.CreatedBy, out.CreatedBy)
	if !placeholder.Address.IsZero() {
		out.Address = placeholder.Address
	}

	out.LinkedFamilyIDs = union(out.LinkedFamilyIDs, placeholder.LinkedFamilyIDs)
	out.LinkedSeniorIDs = union(out.LinkedSeniorIDs, placeholder.LinkedSeniorIDs)
	out.AssignedSeniorIDs = union(out.AssignedSeniorIDs, placeholder.AssignedSeniorIDs)
	out.DeviceTokens = union(out.DeviceTokens, placeholder.DeviceTokens)

	if !placeholder.CreatedAt.IsZero() && (out.CreatedAt.IsZero() || placeholder.CreatedAt.Before(out.CreatedAt)) {
		out.CreatedAt = placeholder.CreatedAt
	}
	out.Origin = models.OriginVerified
	return out
}

// FillBlanks copies the non-empty fields of details into p where p has none.
func FillBlanks(p *models.UserProfile, name, gender, dob, email string, addr models.Address) {
	p.Name = prefer(p.Name, name)
	p.Gender = prefer(p.Gender, gender)
	p.DateOfBirth = prefer(p.DateOfBirth, dob)
	p.Email = prefer(p.Email, email)
	if p.Address.IsZero() {
		p.Address = addr
	}
}

func prefer(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}

func union(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, v := range b {
		if !models.Contains(out, v) {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
