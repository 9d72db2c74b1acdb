package semanticscholar

// searchResponse is the Semantic Scholar Graph API paper search envelope.
type searchResponse struct {
	Total  int     `json:"total"`
	Offset int     `json:"offset"`
	Next   int     `json:"next"`
	Data   []paper `json:"data"`
}

type paper struct {
	PaperID       string       `json:"paperId"`
	Title         string       `json:"title"`
	Abstract      string       `json:"abstract"`
	Year          int          `json:"year"`
	Venue         string       `json:"venue"`
	CitationCount int          `json:"citationCount"`
	ExternalIDs   externalIDs  `json:"externalIds"`
	Authors       []author     `json:"authors"`
	OpenAccessPDF *openAccess  `json:"openAccessPdf"`
	References    []paperStub  `json:"references"`
	PubTypes      []string     `json:"publicationTypes"`
}

type externalIDs struct {
	DOI    string `json:"DOI"`
	PubMed string `json:"PubMed"`
}

type author struct {
	Name string `json:"name"`
}

type openAccess struct {
	URL string `json:"url"`
}

type paperStub struct {
	PaperID string `json:"paperId"`
}

type batchRequest struct {
	IDs []string `json:"ids"`
}
