package pubmed

import "strings"

// esearchResponse is the JSON envelope returned by eutils esearch.
type esearchResponse struct {
	ESearchResult struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// articleSet is the XML envelope returned by eutils efetch.
type articleSet struct {
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	MedlineCitation medlineCitation `xml:"MedlineCitation"`
	PubmedData      pubmedData      `xml:"PubmedData"`
}

type medlineCitation struct {
	PMID    string  `xml:"PMID"`
	Article article `xml:"Article"`
}

type article struct {
	Title            string       `xml:"ArticleTitle"`
	Abstract         abstract     `xml:"Abstract"`
	Journal          journal      `xml:"Journal"`
	AuthorList       authorList   `xml:"AuthorList"`
	PublicationTypes []string     `xml:"PublicationTypeList>PublicationType"`
}

type abstract struct {
	Sections []abstractSection `xml:"AbstractText"`
}

type abstractSection struct {
	Label string `xml:"Label,attr"`
	Text  string `xml:",chardata"`
}

// text joins labelled abstract sections into one string, preserving the
// structured-abstract labels PubMed uses (BACKGROUND, METHODS, ...).
func (a abstract) text() string {
	parts := make([]string, 0, len(a.Sections))
	for _, s := range a.Sections {
		t := strings.TrimSpace(s.Text)
		if t == "" {
			continue
		}
		if s.Label != "" {
			t = s.Label + ": " + t
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, " ")
}

type journal struct {
	Title        string       `xml:"Title"`
	JournalIssue journalIssue `xml:"JournalIssue"`
}

type journalIssue struct {
	PubDate pubDate `xml:"PubDate"`
}

type pubDate struct {
	Year         string `xml:"Year"`
	MedlineDate  string `xml:"MedlineDate"`
}

type authorList struct {
	Authors []xmlAuthor `xml:"Author"`
}

type xmlAuthor struct {
	LastName       string `xml:"LastName"`
	ForeName       string `xml:"ForeName"`
	CollectiveName string `xml:"CollectiveName"`
}

func (a xmlAuthor) displayName() string {
	if a.CollectiveName != "" {
		return a.CollectiveName
	}
	name := strings.TrimSpace(a.ForeName + " " + a.LastName)
	return name
}

type pubmedData struct {
	ArticleIDs []articleID `xml:"ArticleIdList>ArticleId"`
}

type articleID struct {
	IDType string `xml:"IdType,attr"`
	Value  string `xml:",chardata"`
}
