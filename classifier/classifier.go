package classifier

import (
	"strings"

	"cityfix-analyze-pipeline/models"
)

// keywordGroup binds an issue type to the substrings that select it.
type keywordGroup struct {
	issueType models.IssueType
	keywords  []string
}

// groups are checked in this exact order; the first match wins.
// Specific types come before generic ones so that e.g. a pothole photo
// whose labels also mention "road" classifies as pothole, not
// road-damage.
var groups = []keywordGroup{
	{models.IssuePothole, []string{"pothole", "crack", "hole"}},
	{models.IssueGarbage, []string{"trash", "garbage", "litter", "waste"}},
	{models.IssueTree, []string{"tree", "branch", "vegetation"}},
	{models.IssueFlooding, []string{"water", "flood", "drain", "leak"}},
	{models.IssueRoadDamage, []string{"road", "asphalt", "street", "pavement"}},
}

// Classify maps a label set to one issue type. Pure and total: it does
// no I/O and always returns a value; an empty or unmatched label set
// yields IssueOther.
func Classify(labels []models.Label) models.IssueType {
	for _, group := range groups {
		for _, label := range labels {
			desc := strings.ToLower(label.Description)
			for _, keyword := range group.keywords {
				if strings.Contains(desc, keyword) {
					return group.issueType
				}
			}
		}
	}
	return models.IssueOther
}
