package ingest

// Classification code labels from the Charity Commission data definitions.
// The extract usually carries classification_description, so these only
// back-fill rows where the description column is empty.

var classificationWhat = map[string]string{
	"101": "General Charitable Purposes",
	"102": "Education/Training",
	"103": "Medical/Health/Sickness",
	"104": "Disability",
	"105": "Relief of Poverty",
	"106": "Overseas Aid/Famine Relief",
	"107": "Accommodation/Housing",
	"108": "Religious Activities",
	"109": "Arts/Culture/Heritage/Science",
	"110": "Amateur Sport",
	"111": "Animals",
	"112": "Environment/Conservation/Heritage",
	"113": "Economic/Community Development/Employment",
	"114": "Armed Forces/Emergency Service Efficiency",
	"115": "Human Rights/Religious/Racial Harmony/Equality/Diversity",
	"116": "Recreation",
	"117": "Other Charitable Purposes",
}

var classificationWho = map[string]string{
	"201": "Children/Young People",
	"202": "Elderly/Old People",
	"203": "People with Disabilities",
	"204": "People of a Particular Ethnic or Racial Origin",
	"205": "Other Charities/Voluntary Bodies",
	"206": "Other Defined Groups",
	"207": "The General Public/Mankind",
}

var classificationHow = map[string]string{
	"301": "Makes Grants to Individuals",
	"302": "Makes Grants to Organisations",
	"303": "Provides Other Finance",
	"304": "Provides Human Resources",
	"305": "Provides Buildings/Facilities/Open Space",
	"306": "Provides Services",
	"307": "Provides Advocacy/Advice/Information",
	"308": "Sponsors or Undertakes Research",
	"309": "Acts as an Umbrella or Resource Body",
	"310": "Other Charitable Activities",
}

func classificationLabel(kind, code, description string) string {
	if description != "" {
		return description
	}

	var lookup map[string]string
	switch kind {
	case "What":
		lookup = classificationWhat
	case "Who":
		lookup = classificationWho
	case "How":
		lookup = classificationHow
	}

	if label, ok := lookup[code]; ok {
		return label
	}
	return "Unknown"
}
