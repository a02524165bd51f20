package drugs

import (
	"time"

	"github.com/Combine-Capital/drugfacts/pkg/search"
)

// ProductType is reported for every index entry.
const ProductType = "HUMAN PRESCRIPTION DRUG LABEL"

// Label holds the structured product label sections.
type Label struct {
	BoxedWarning             string `json:"boxedWarning,omitempty"`
	Warnings                 string `json:"warnings,omitempty"`
	WarningsAndPrecautions   string `json:"warningsAndPrecautions,omitempty"`
	Precautions              string `json:"precautions,omitempty"`
	AdverseReactions         string `json:"adverseReactions,omitempty"`
	DrugInteractions         string `json:"drugInteractions,omitempty"`
	Contraindications        string `json:"contraindications,omitempty"`
	IndicationsAndUsage      string `json:"indicationsAndUsage,omitempty"`
	DosageAndAdministration  string `json:"dosageAndAdministration,omitempty"`
	DosageFormsAndStrengths  string `json:"dosageFormsAndStrengths,omitempty"`
	Overdosage               string `json:"overdosage,omitempty"`
	Description              string `json:"description,omitempty"`
	ClinicalPharmacology     string `json:"clinicalPharmacology,omitempty"`
	ClinicalStudies          string `json:"clinicalStudies,omitempty"`
	NonclinicalToxicology    string `json:"nonclinicalToxicology,omitempty"`
	NonClinicalToxicology    string `json:"nonClinicalToxicology,omitempty"`
	HowSupplied              string `json:"howSupplied,omitempty"`
	UseInSpecificPopulations string `json:"useInSpecificPopulations,omitempty"`
	PatientCounseling        string `json:"patientCounseling,omitempty"`
	PrincipalDisplayPanel    string `json:"principalDisplayPanel,omitempty"`
	SPL                      string `json:"spl,omitempty"`
	MechanismOfAction        string `json:"mechanismOfAction,omitempty"`
	GenericName              string `json:"genericName,omitempty"`
	LabelerName              string `json:"labelerName,omitempty"`
	ProductType              string `json:"productType,omitempty"`
	EffectiveTime            string `json:"effectiveTime,omitempty"`
	Title                    string `json:"title,omitempty"`
}

// Drug is one document of the drug collection. Root-level label sections are the
// legacy layout; newer documents carry them only under Label.
type Drug struct {
	DrugName         string `json:"drugName"`
	GenericName      string `json:"genericName,omitempty"`
	ActiveIngredient string `json:"activeIngredient,omitempty"`
	Slug             string `json:"slug"`
	SetID            string `json:"setId"`
	Labeler          string `json:"labeler,omitempty"`
	Manufacturer     string `json:"manufacturer,omitempty"`
	TherapeuticClass string `json:"therapeuticClass,omitempty"`
	DEA              string `json:"dea,omitempty"`
	Label            *Label `json:"label,omitempty"`

	BoxedWarning            string `json:"boxedWarning,omitempty"`
	Warnings                string `json:"warnings,omitempty"`
	Precautions             string `json:"precautions,omitempty"`
	AdverseReactions        string `json:"adverseReactions,omitempty"`
	DrugInteractions        string `json:"drugInteractions,omitempty"`
	Contraindications       string `json:"contraindications,omitempty"`
	IndicationsAndUsage     string `json:"indicationsAndUsage,omitempty"`
	DosageAndAdministration string `json:"dosageAndAdministration,omitempty"`
	Overdosage              string `json:"overdosage,omitempty"`
	Description             string `json:"description,omitempty"`
	ClinicalPharmacology    string `json:"clinicalPharmacology,omitempty"`
	NonClinicalToxicology   string `json:"nonClinicalToxicology,omitempty"`
	ClinicalStudies         string `json:"clinicalStudies,omitempty"`
	HowSupplied             string `json:"howSupplied,omitempty"`
	PatientCounseling       string `json:"patientCounseling,omitempty"`
	PrincipalDisplayPanel   string `json:"principalDisplayPanel,omitempty"`
	SPL                     string `json:"spl,omitempty"`

	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// WithLabelFallback fills empty root sections from the label. Used for detail responses.
func (d Drug) WithLabelFallback() Drug {
	l := d.Label
	if l == nil {
		return d
	}
	d.BoxedWarning = firstNonEmpty(d.BoxedWarning, l.BoxedWarning)
	d.Warnings = firstNonEmpty(d.Warnings, l.Warnings, l.WarningsAndPrecautions)
	d.Precautions = firstNonEmpty(d.Precautions, l.Precautions)
	d.AdverseReactions = firstNonEmpty(d.AdverseReactions, l.AdverseReactions)
	d.DrugInteractions = firstNonEmpty(d.DrugInteractions, l.DrugInteractions)
	d.Contraindications = firstNonEmpty(d.Contraindications, l.Contraindications)
	d.IndicationsAndUsage = firstNonEmpty(d.IndicationsAndUsage, l.IndicationsAndUsage)
	d.DosageAndAdministration = firstNonEmpty(d.DosageAndAdministration, l.DosageAndAdministration)
	d.Overdosage = firstNonEmpty(d.Overdosage, l.Overdosage)
	d.Description = firstNonEmpty(d.Description, l.Description)
	d.ClinicalPharmacology = firstNonEmpty(d.ClinicalPharmacology, l.ClinicalPharmacology)
	d.NonClinicalToxicology = firstNonEmpty(d.NonClinicalToxicology, l.NonClinicalToxicology, l.NonclinicalToxicology)
	d.ClinicalStudies = firstNonEmpty(d.ClinicalStudies, l.ClinicalStudies)
	d.HowSupplied = firstNonEmpty(d.HowSupplied, l.HowSupplied)
	d.PatientCounseling = firstNonEmpty(d.PatientCounseling, l.PatientCounseling)
	d.PrincipalDisplayPanel = firstNonEmpty(d.PrincipalDisplayPanel, l.PrincipalDisplayPanel)
	d.GenericName = firstNonEmpty(d.GenericName, l.GenericName)
	return d
}

// SearchView maps only the fields search results show, keeping result pages small.
func (d Drug) SearchView() Drug {
	if d.Label == nil {
		return d
	}
	d.IndicationsAndUsage = firstNonEmpty(d.IndicationsAndUsage, d.Label.IndicationsAndUsage)
	d.GenericName = firstNonEmpty(d.GenericName, d.Label.GenericName)
	return d
}

// SearchFields projects d onto the ranker's fields.
func SearchFields(d Drug) search.Fields {
	f := search.Fields{
		PrimaryName:      d.DrugName,
		SecondaryName:    d.GenericName,
		ActiveIngredient: d.ActiveIngredient,
		Body:             [2]string{d.IndicationsAndUsage},
		Category:         d.TherapeuticClass,
		Source:           d.Manufacturer,
	}
	if d.Label != nil {
		f.SecondaryName = firstNonEmpty(d.GenericName, d.Label.GenericName)
		f.Body[1] = d.Label.IndicationsAndUsage
	}
	return f
}

// IndexLabel is the label summary carried by an IndexEntry.
type IndexLabel struct {
	GenericName string `json:"genericName,omitempty"`
	LabelerName string `json:"labelerName,omitempty"`
	ProductType string `json:"productType"`
}

// IndexEntry is one row of the full drug index.
type IndexEntry struct {
	DrugName         string     `json:"drugName"`
	SetID            string     `json:"setId"`
	Slug             string     `json:"slug"`
	Labeler          string     `json:"labeler,omitempty"`
	Label            IndexLabel `json:"label"`
	TherapeuticClass string     `json:"therapeuticClass,omitempty"`
	Manufacturer     string     `json:"manufacturer,omitempty"`
}

// IndexEntry summarizes d for the index. The labeler falls back to the manufacturer.
func (d Drug) IndexEntry() IndexEntry {
	labeler := firstNonEmpty(d.Labeler, d.Manufacturer)
	return IndexEntry{
		DrugName: d.DrugName,
		SetID:    d.SetID,
		Slug:     d.Slug,
		Labeler:  labeler,
		Label: IndexLabel{
			GenericName: d.GenericName,
			LabelerName: labeler,
			ProductType: ProductType,
		},
		TherapeuticClass: d.TherapeuticClass,
		Manufacturer:     d.Manufacturer,
	}
}

// Pagination describes where a Page sits in the full result.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// Page is one page of search results.
type Page struct {
	Data       []Drug     `json:"data"`
	Pagination Pagination `json:"pagination"`
}

func newPage(p search.Page[Drug]) Page {
	data := make([]Drug, len(p.Items))
	for i, d := range p.Items {
		data[i] = d.SearchView()
	}
	return Page{
		Data: data,
		Pagination: Pagination{
			Page:       p.Page,
			Limit:      p.Limit,
			Total:      p.Total,
			TotalPages: p.TotalPages(),
			HasNext:    p.HasNext(),
			HasPrev:    p.HasPrev(),
		},
	}
}
