package admission

import (
	"sort"

	"github.com/ehr/patientflow/internal/domain/resource"
)

// CheapestFit picks the available bed with the lowest daily rate among those
// carrying every required feature. Ties go to the bed name, then the id.
// It returns nil when no bed qualifies.
func CheapestFit(beds []*resource.Resource, features []string) *resource.Resource {
	var fit []*resource.Resource
	for _, b := range beds {
		if b.Kind == resource.KindBed && b.Status == resource.StatusAvailable && b.HasFeatures(features) {
			fit = append(fit, b)
		}
	}
	if len(fit) == 0 {
		return nil
	}
	sort.Slice(fit, func(i, j int) bool {
		if fit[i].DailyRate != fit[j].DailyRate {
			return fit[i].DailyRate < fit[j].DailyRate
		}
		if fit[i].Name != fit[j].Name {
			return fit[i].Name < fit[j].Name
		}
		return fit[i].ID.String() < fit[j].ID.String()
	})
	return fit[0]
}
