package scoring

import (
	"fmt"
	"math"

	"github.com/rooflinehq/roofline/internal/model"
)

// Element scores assigned from document presence when no assessment exists.
const (
	approvedDocScore = 75
	anyDocScore      = 25
)

// highWeightThreshold separates the elements whose absence is flagged as a
// warning rather than informational.
const highWeightThreshold = 1.3

// ScoreDocumentation scores the organization's quality documentation across
// all ISO elements. Per element, a reviewer assessment is authoritative;
// otherwise an approved document scores 75, any document 25, nothing 0. The
// category score is the weighted mean over all elements.
func (e Engine) ScoreDocumentation(snap model.OrganizationSnapshot) (int, []model.Issue) {
	assessments := make(map[model.ISOElement]model.ComplianceAssessment, len(snap.Assessments))
	for _, a := range snap.Assessments {
		assessments[a.Element] = a
	}

	type docPresence struct {
		any      bool
		approved bool
	}
	docs := make(map[model.ISOElement]docPresence, len(snap.Documents))
	for _, d := range snap.Documents {
		if d.DeletedAt != nil {
			continue
		}
		p := docs[d.Element]
		p.any = true
		if d.Status == model.DocumentApproved {
			p.approved = true
		}
		docs[d.Element] = p
	}

	var issues []model.Issue
	var weightedSum, weightTotal float64

	for _, element := range model.ISOElements() {
		weight := e.policy.ElementWeights[element]
		presence := docs[element]

		var score int
		if assessment, ok := assessments[element]; ok {
			score = clampScore(assessment.Score)
		} else if presence.approved {
			score = approvedDocScore
		} else if presence.any {
			score = anyDocScore
		}

		weightedSum += float64(score) * weight
		weightTotal += weight

		title := model.ElementTitle(element)
		switch {
		case score == 0 && weight >= highWeightThreshold:
			issues = append(issues, elementIssue(model.IssueWarning, model.CategoryDocumentation, element,
				fmt.Sprintf("Missing documentation for %s", title)))
		case score == 0:
			issues = append(issues, elementIssue(model.IssueInfo, model.CategoryDocumentation, element,
				fmt.Sprintf("Missing documentation for %s", title)))
		case score < 50 && !presence.approved:
			issues = append(issues, elementIssue(model.IssueInfo, model.CategoryDocumentation, element,
				fmt.Sprintf("Documentation for %s is awaiting approval", title)))
		}
	}

	if weightTotal == 0 {
		return 0, issues
	}
	return clampScore(int(math.Round(weightedSum / weightTotal))), issues
}
