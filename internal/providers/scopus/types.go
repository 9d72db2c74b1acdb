package scopus

type searchResponse struct {
	Results searchResults `json:"search-results"`
}

type searchResults struct {
	TotalResults string  `json:"opensearch:totalResults"`
	Entries      []entry `json:"entry"`
}

type entry struct {
	Identifier      string        `json:"dc:identifier"`
	Title           string        `json:"dc:title"`
	Description     string        `json:"dc:description"`
	PublicationName string        `json:"prism:publicationName"`
	CoverDate       string        `json:"prism:coverDate"`
	DOI             string        `json:"prism:doi"`
	PubMedID        string        `json:"pubmed-id"`
	CitedByCount    string        `json:"citedby-count"`
	Creator         string        `json:"dc:creator"`
	Authors         []entryAuthor `json:"author"`
	Error           string        `json:"error"`
}

type entryAuthor struct {
	AuthName string `json:"authname"`
}
