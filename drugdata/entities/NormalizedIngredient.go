package entities

// NormalizedIngredient is an active ingredient row with its name cleaned and
// strength canonicalized. CleanedName is never empty.
type NormalizedIngredient struct {
	Code           string
	Name           string
	CleanedName    string
	Strength       string
	Unit           string
	NormalizedUnit string
}

// Display renders the ingredient as "<name> <strength><unit>". Strength and
// unit are omitted when the strength is empty.
func (i NormalizedIngredient) Display() string {
	if i.Strength == "" {
		return i.CleanedName
	}
	return i.CleanedName + " " + i.Strength + i.Unit
}
