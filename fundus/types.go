package fundus

// CollectionContact is a contact person of a Collection.
type CollectionContact struct {
	City          string `json:"city"`
	ContactName   string `json:"contact_name"`
	Department    string `json:"department"`
	Email         string `json:"email"`
	Institution   string `json:"institution"`
	Position      string `json:"position"`
	Street        string `json:"street"`
	Tel           string `json:"tel"`
	WWWDepartment string `json:"www_department"`
	WWWName       string `json:"www_name"`
}

// RecordField describes one detail field of the records in a collection.
type RecordField struct {
	Name    string `json:"name"`
	LabelEN string `json:"label_en"`
	LabelDE string `json:"label_de"`
}

// Collection is a FUNDus! collection of records.
type Collection struct {
	MuragID        string              `json:"murag_id"`
	CollectionName string              `json:"collection_name"`
	Title          string              `json:"title"`
	TitleDE        string              `json:"title_de"`
	Description    string              `json:"description"`
	DescriptionDE  string              `json:"description_de"`
	Contacts       []CollectionContact `json:"contacts"`
	TitleFields    []string            `json:"title_fields"`
	Fields         []RecordField       `json:"fields"`
}

// Record is one object of a collection. Records sharing a FundusID are
// different images of the same object.
type Record struct {
	MuragID        string            `json:"murag_id"`
	Title          string            `json:"title"`
	FundusID       int               `json:"fundus_id"`
	CatalogNo      string            `json:"catalogno"`
	CollectionName string            `json:"collection_name"`
	ImageName      string            `json:"image_name"`
	Details        map[string]string `json:"details"`
}

// RecordImage is the base64 encoded image of a record.
type RecordImage struct {
	MuragID     string `json:"murag_id"`
	FundusID    int    `json:"fundus_id"`
	ImageName   string `json:"image_name"`
	Base64Image string `json:"base64_image"`
}

// DataURL returns the image as a data URL for multimodal model input.
func (i RecordImage) DataURL() string {
	return "data:" + MimeFromName(i.ImageName) + ";base64," + i.Base64Image
}

// RecordSearchResult is a record hit of a similarity search.
type RecordSearchResult struct {
	Record    Record  `json:"record"`
	Certainty float64 `json:"certainty"`
	Distance  float64 `json:"distance"`
}

// CollectionSearchResult is a collection hit of a similarity search.
type CollectionSearchResult struct {
	Collection Collection `json:"collection"`
	Certainty  float64    `json:"certainty"`
	Distance   float64    `json:"distance"`
}

// RecordVector names a stored record embedding.
type RecordVector string

const (
	RecordImageVector RecordVector = "record_image"
	RecordTitleVector RecordVector = "record_title"
)

// CollectionVector names a stored collection embedding.
type CollectionVector string

const (
	CollectionTitleVector       CollectionVector = "collection_title"
	CollectionDescriptionVector CollectionVector = "collection_description"
)

// CollectionQuery is a lexical collection search.
type CollectionQuery struct {
	Query string
	TopK  int
	// Fields restricts the searched columns; empty searches collection_name,
	// title, description, title_de and description_de.
	Fields []string
}

// RecordQuery is a lexical search over record titles.
type RecordQuery struct {
	Query       string
	TopK        int
	Collections []string
}

// SimilarityQuery is a nearest neighbour search over a stored embedding.
type SimilarityQuery struct {
	Embedding   []float32
	TopK        int
	Collections []string
	// MinCertainty drops hits below the threshold.
	MinCertainty float64
}
