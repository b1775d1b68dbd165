package admin

import (
	"time"

	"carelink/models"
)

// GetLegalSections returns all legal documents.
func (a *DefaultAdminService) GetLegalSections() []models.LegalSection {
	now := a.legalUpdated.UTC().Format(time.RFC3339)

	return []models.LegalSection{
		{
			ID:       "tos",
			Title:    "Terms of Service",
			Summary:  "These terms govern your use of CareLink.",
			Content:  generateTermsOfService(),
			Audience: models.AudienceAll,
			Version:  "v1.0",
			Updated:  now,
		},
		{
			ID:       "privacy",
			Title:    "Privacy Policy",
			Summary:  "How CareLink collects and uses personal data.",
			Content:  generatePrivacyPolicy(),
			Audience: models.AudienceAll,
			Version:  "v1.0",
			Updated:  now,
		},
		{
			ID:       "family-consent",
			Title:    "Registering a Senior",
			Summary:  "What a family member agrees to when registering someone else.",
			Content:  generateFamilyConsent(),
			Audience: string(models.RoleFamily),
			Version:  "v1.0",
			Updated:  now,
		},
		{
			ID:       "care-conduct",
			Title:    "Care Manager Code of Conduct",
			Summary:  "Rules care managers follow when handling assigned seniors.",
			Content:  generateCareConduct(),
			Audience: string(models.RoleCareManager),
			Version:  "v1.0",
			Updated:  now,
		},
	}
}

// GetLegalSectionsFor returns legal documents relevant to the specified role.
func (a *DefaultAdminService) GetLegalSectionsFor(role models.Role) []models.LegalSection {
	all := a.GetLegalSections()
	var filtered []models.LegalSection

	for _, section := range all {
		if section.Audience == models.AudienceAll || section.Audience == string(role) {
			filtered = append(filtered, section)
		}
	}
	return filtered
}

func generateTermsOfService() string {
	return `Welcome to CareLink. By using the app you agree to these Terms of Service.

1. Accounts: Each phone number belongs to exactly one account type.
2. Verification: Every sign-in is confirmed with a one-time code sent to your phone.
3. Linking: A senior's linking code lets family members follow their care. Share it only with people you trust.
4. Care managers: Care managers are assigned by CareLink administrators.

Full details available on our website.`
}

func generatePrivacyPolicy() string {
	return `CareLink values your privacy.

1. Data We Collect: Phone number, name, date of birth, address and device tokens.
2. How We Use It: Verification, linking family members and care coordination.
3. Third Parties: SMS and push delivery providers.
4. Rights: You can request data deletion anytime.`
}

func generateFamilyConsent() string {
	return `When you register a senior you confirm that:

- The senior agreed to be registered and will receive a verification code.
- The details you enter are accurate to the best of your knowledge.
- Your own session is paused while the senior verifies on your device.`
}

func generateCareConduct() string {
	return `Care managers agree to:

- Access only the seniors assigned to them.
- Keep health and contact details confidential.
- Report concerns through CareLink support.`
}
