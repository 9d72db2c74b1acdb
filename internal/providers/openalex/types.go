package openalex

type listResponse struct {
	Meta    meta   `json:"meta"`
	Results []work `json:"results"`
}

type meta struct {
	Count int `json:"count"`
}

type work struct {
	ID                      string           `json:"id"`
	DOI                     string           `json:"doi"`
	Title                   string           `json:"title"`
	PublicationYear         int              `json:"publication_year"`
	CitedByCount            int              `json:"cited_by_count"`
	IsRetracted             bool             `json:"is_retracted"`
	AbstractInvertedIndex   map[string][]int `json:"abstract_inverted_index"`
	Authorships             []authorship     `json:"authorships"`
	PrimaryLocation         *location        `json:"primary_location"`
	OpenAccess              openAccess       `json:"open_access"`
	IDs                     workIDs          `json:"ids"`
}

type authorship struct {
	Author struct {
		DisplayName string `json:"display_name"`
	} `json:"author"`
}

type location struct {
	Source *struct {
		DisplayName string `json:"display_name"`
	} `json:"source"`
}

type openAccess struct {
	OAURL string `json:"oa_url"`
}

type workIDs struct {
	PMID string `json:"pmid"`
}
