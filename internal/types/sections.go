package types

// RequiredSections is the canonical, fixed set of nine required IEP
// sections (I3). Titles are authoritative in every language — C7
// translators keep the English title even when translating content.
var RequiredSections = []string{
	"Present Levels",
	"Eligibility",
	"Placement",
	"Goals",
	"Services",
	"Informed Consent",
	"Accommodations",
	"Key People",
	"Strengths",
}

// SectionInfo is the description/guidance pair the Structured Extractor's
// get_section_info tool returns for a canonical section name.
type SectionInfo struct {
	Description string
	Guidance    string
}

// sectionCatalog backs get_section_info. Populated for every canonical
// section; extraction guidance is intentionally terse — these are tool
// outputs read by an LLM, not end-user documentation.
var sectionCatalog = map[string]SectionInfo{
	"Present Levels": {
		Description: "Present levels of academic achievement and functional performance.",
		Guidance:    "Summarize current performance data, test scores, and how the disability affects involvement in the general curriculum.",
	},
	"Eligibility": {
		Description: "The disability category and the evaluation basis for eligibility.",
		Guidance:    "State the eligibility category and cite the evaluation or assessment it rests on.",
	},
	"Placement": {
		Description: "The educational placement and least-restrictive-environment justification.",
		Guidance:    "Describe the setting (e.g. general education, resource room) and the rationale for it.",
	},
	"Goals": {
		Description: "Measurable annual goals and how progress toward them will be tracked.",
		Guidance:    "List each goal with its measurement method and reporting schedule.",
	},
	"Services": {
		Description: "Special education and related services, with frequency and duration.",
		Guidance:    "Enumerate each service, provider type, frequency, and duration/location.",
	},
	"Informed Consent": {
		Description: "Parental consent and procedural safeguards notices.",
		Guidance:    "Note what consent was requested, whether it was given, and on what date.",
	},
	"Accommodations": {
		Description: "Classroom and testing accommodations or modifications.",
		Guidance:    "List accommodations separately from modifications where the source distinguishes them.",
	},
	"Key People": {
		Description: "IEP team members and their roles.",
		Guidance:    "List attendees with their role (e.g. special education teacher, parent, LEA representative).",
	},
	"Strengths": {
		Description: "The student's strengths, interests, and preferences.",
		Guidance:    "Summarize strengths as described by family, teachers, and the student.",
	},
}

// GetSectionInfo returns the description/guidance for a canonical section
// name. The second return value is false for unknown names.
func GetSectionInfo(name string) (SectionInfo, bool) {
	info, ok := sectionCatalog[name]
	return info, ok
}

// PlaceholderSentence is substituted for a required section the
// Structured Extractor could not find in the source document (I3).
func PlaceholderSentence(section string) string {
	return "No information about " + section + " was found in this document."
}

// IsRequiredSection reports whether title is one of the nine canonical
// section titles.
func IsRequiredSection(title string) bool {
	for _, s := range RequiredSections {
		if s == title {
			return true
		}
	}
	return false
}
