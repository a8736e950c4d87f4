package catalog

// CategoryEntry maps a coarse health category to its suggested doctor
// specialties. The first-listed specialty is the primary one.
type CategoryEntry struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Specialties []string `json:"specialties"`
}

// categories is the static catalog shipped with the process. Changing it
// requires a restart; the catalog is not hot-reloadable.
var categories = []CategoryEntry{
	{
		Name:        "General Medicine",
		Description: "Common complaints, check-ups and non-specific symptoms",
		Specialties: []string{"General Practice", "Internal Medicine", "Family Medicine"},
	},
	{
		Name:        "Cardiology",
		Description: "Heart and circulatory system concerns",
		Specialties: []string{"Cardiology", "Internal Medicine"},
	},
	{
		Name:        "Dermatology",
		Description: "Skin, hair and nail conditions",
		Specialties: []string{"Dermatology", "Allergology"},
	},
	{
		Name:        "Pediatrics",
		Description: "Health concerns for infants, children and adolescents",
		Specialties: []string{"Pediatrics", "Family Medicine"},
	},
	{
		Name:        "Mental Health",
		Description: "Emotional wellbeing, stress, anxiety and mood concerns",
		Specialties: []string{"Psychiatry", "Psychology", "Psychotherapy"},
	},
	{
		Name:        "Orthopedics",
		Description: "Bones, joints, muscles and sports injuries",
		Specialties: []string{"Orthopedics", "Sports Medicine", "Physiotherapy"},
	},
	{
		Name:        "Gynecology",
		Description: "Women's reproductive health",
		Specialties: []string{"Gynecology", "Obstetrics"},
	},
	{
		Name:        "Neurology",
		Description: "Headaches, dizziness and nervous system concerns",
		Specialties: []string{"Neurology", "Internal Medicine"},
	},
	{
		Name:        "Gastroenterology",
		Description: "Digestive system and abdominal complaints",
		Specialties: []string{"Gastroenterology", "Internal Medicine"},
	},
	{
		Name:        "Ophthalmology",
		Description: "Eye and vision concerns",
		Specialties: []string{"Ophthalmology"},
	},
	{
		Name:        "ENT",
		Description: "Ear, nose and throat conditions",
		Specialties: []string{"Otolaryngology", "General Practice"},
	},
	{
		Name:        "Urology",
		Description: "Urinary tract and male reproductive health",
		Specialties: []string{"Urology", "Nephrology"},
	},
}

// GetHealthCategories returns the full ordered catalog.
func GetHealthCategories() []CategoryEntry {
	out := make([]CategoryEntry, len(categories))
	copy(out, categories)
	return out
}

// GetCategoryNames returns just the category names, in catalog order.
func GetCategoryNames() []string {
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = c.Name
	}
	return names
}

// GetSuggestedSpecialties returns the specialty list for an exact,
// case-sensitive category match. Unknown categories return an empty
// slice, never an error; callers decide how to surface "not found".
func GetSuggestedSpecialties(categoryName string) []string {
	for _, c := range categories {
		if c.Name == categoryName {
			out := make([]string, len(c.Specialties))
			copy(out, c.Specialties)
			return out
		}
	}
	return []string{}
}

// IsKnownCategory reports whether the category exists in the catalog.
func IsKnownCategory(categoryName string) bool {
	for _, c := range categories {
		if c.Name == categoryName {
			return true
		}
	}
	return false
}
