package fundus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/fundusmesh/agent"
	"github.com/hupe1980/fundusmesh/logging"
	"github.com/hupe1980/fundusmesh/tool"
)

// Group names.
const (
	LookupGroup           = "DB Lookup"
	LexicalSearchGroup    = "Lexical Search"
	SimilaritySearchGroup = "Similarity Search"
	ImageAnalysisGroup    = "Image Analysis"
)

const defaultTopK = 10

var (
	errNoEmbedder = errors.New("similarity search is not configured")
	errNoVision   = errors.New("image analysis is not configured")
	errNoImages   = errors.New("user images are not configured")
)

// AssistantFactory builds a fresh tool-less assistant with the given system
// instruction. The image analysis tools and the query rewriter use one
// assistant per call.
type AssistantFactory func(instruction string) (*agent.Assistant, error)

// ToolkitOptions configures a Toolkit.
type ToolkitOptions struct {
	// Embedder backs the similarity search tools.
	Embedder Embedder
	// Images resolves user image ids for the user image search.
	Images *ImageStore
	// Vision backs the image analysis tools.
	Vision AssistantFactory
	// QueryRewriter turns text queries into caption-like queries before the
	// cross-modal text-to-image search. Nil embeds the query as given.
	QueryRewriter AssistantFactory
	Logger logging.Logger
}

// Toolkit exposes a Store as tool groups.
type Toolkit struct {
	store Store
	opts  ToolkitOptions
}

// NewToolkit creates a Toolkit over store. Tools whose backing dependency is
// missing stay registered and fail when called.
func NewToolkit(store Store, optFns ...func(o *ToolkitOptions)) *Toolkit {
	opts := ToolkitOptions{Logger: logging.NoOpLogger{}}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Toolkit{store: store, opts: opts}
}

type noArgs struct{}

type collectionNameArgs struct {
	CollectionName string `json:"collection_name" jsonschema_description:"The name of the FundusCollection."`
}

type muragIDArgs struct {
	MuragID string `json:"murag_id" jsonschema_description:"The murag_id of the FundusRecord."`
}

type randomRecordsArgs struct {
	N              int    `json:"n,omitempty" jsonschema_description:"Number of records to return. Defaults to 1."`
	CollectionName string `json:"collection_name,omitempty" jsonschema_description:"Optional name of the FundusCollection to draw the records from."`
}

type randomCollectionsArgs struct {
	N int `json:"n,omitempty" jsonschema_description:"Number of collections to return. Defaults to 1."`
}

type collectionSearchArgs struct {
	Query string `json:"query" jsonschema_description:"The search query."`
	TopK  int    `json:"top_k,omitempty" jsonschema_description:"Number of results to return. Defaults to 10."`
}

type recordTitleSearchArgs struct {
	Query          string `json:"query" jsonschema_description:"The search query."`
	CollectionName string `json:"collection_name,omitempty" jsonschema_description:"Optional name of the FundusCollection to restrict the search to."`
	TopK           int    `json:"top_k,omitempty" jsonschema_description:"Number of results to return. Defaults to 10."`
}

type recordTextSimilarityArgs struct {
	Query       string   `json:"query" jsonschema_description:"The text query."`
	Collections []string `json:"search_in_collections,omitempty" jsonschema_description:"Names of FundusCollections to restrict the search to."`
	TopK        int      `json:"top_k,omitempty" jsonschema_description:"Number of results to return. Defaults to 10."`
}

type similarImageArgs struct {
	MuragID     string   `json:"murag_id" jsonschema_description:"The murag_id of the FundusRecord whose image is the query."`
	Collections []string `json:"search_in_collections,omitempty" jsonschema_description:"Names of FundusCollections to restrict the search to."`
	TopK        int      `json:"top_k,omitempty" jsonschema_description:"Number of results to return. Defaults to 10."`
}

type userImageArgs struct {
	UserImageID string   `json:"user_image_id" jsonschema_description:"The id of the image the user provided."`
	Collections []string `json:"search_in_collections,omitempty" jsonschema_description:"Names of FundusCollections to restrict the search to."`
	TopK        int      `json:"top_k,omitempty" jsonschema_description:"Number of results to return. Defaults to 10."`
}

type questionArgs struct {
	Question string `json:"question" jsonschema_description:"The question to be answered."`
	MuragID  string `json:"murag_id" jsonschema_description:"The murag_id of the FundusRecord whose image is analyzed."`
}

type captionArgs struct {
	MuragID  string `json:"murag_id" jsonschema_description:"The murag_id of the FundusRecord whose image is captioned."`
	Detailed bool   `json:"detailed,omitempty" jsonschema_description:"Whether the caption should be detailed instead of concise."`
}

func topK(k int) int {
	if k <= 0 {
		return defaultTopK
	}
	return k
}

func atLeastOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// Lookup returns the record and collection lookup tools.
func (k *Toolkit) Lookup() tool.Group {
	s := k.store

	return tool.Group{Name: LookupGroup, Tools: []tool.Tool{
		tool.MustFunctionTool("get_total_number_of_fundus_records",
			"Get the total number of FundusRecords in the FUNDus! database.",
			func(ctx context.Context, _ noArgs) (any, error) { return s.CountRecords(ctx) }),
		tool.MustFunctionTool("get_number_of_records_per_collection",
			"Get the number of FundusRecords per FundusCollection, keyed by collection_name.",
			func(ctx context.Context, _ noArgs) (any, error) { return s.CountRecordsPerCollection(ctx) }),
		tool.MustFunctionTool("get_number_of_records_in_collection",
			"Get the number of FundusRecords in the FundusCollection with the given name.",
			func(ctx context.Context, a collectionNameArgs) (any, error) {
				return s.CountRecordsInCollection(ctx, a.CollectionName)
			}),
		tool.MustFunctionTool("get_random_fundus_records",
			"Get N random FundusRecords, optionally from a specific FundusCollection.",
			func(ctx context.Context, a randomRecordsArgs) (any, error) {
				return s.RandomRecords(ctx, atLeastOne(a.N), a.CollectionName)
			}),
		tool.MustFunctionTool("get_fundus_record_by_murag_id",
			"Get a FundusRecord by its murag_id.",
			func(ctx context.Context, a muragIDArgs) (any, error) { return s.RecordByMuragID(ctx, a.MuragID) }),
		tool.MustFunctionTool("get_total_number_of_fundus_collections",
			"Get the total number of FundusCollections in the FUNDus! database.",
			func(ctx context.Context, _ noArgs) (any, error) { return s.CountCollections(ctx) }),
		tool.MustFunctionTool("list_all_fundus_collections",
			"List all FundusCollections in the FUNDus! database.",
			func(ctx context.Context, _ noArgs) (any, error) { return s.ListCollections(ctx) }),
		tool.MustFunctionTool("get_random_fundus_collection",
			"Get N random FundusCollections.",
			func(ctx context.Context, a randomCollectionsArgs) (any, error) {
				return s.RandomCollections(ctx, atLeastOne(a.N))
			}),
		tool.MustFunctionTool("get_fundus_collection_by_name",
			"Get a FundusCollection by its name. English and German titles are accepted as well.",
			func(ctx context.Context, a collectionNameArgs) (any, error) {
				return s.CollectionByName(ctx, a.CollectionName)
			}),
	}}
}

// LexicalSearch returns the keyword search tools.
func (k *Toolkit) LexicalSearch() tool.Group {
	s := k.store

	return tool.Group{Name: LexicalSearchGroup, Tools: []tool.Tool{
		tool.MustFunctionTool("fundus_collection_lexical_search",
			"Lexical search for FundusCollections. Searches the collection name and the English and German titles and descriptions.",
			func(ctx context.Context, a collectionSearchArgs) (any, error) {
				return s.SearchCollections(ctx, CollectionQuery{Query: a.Query, TopK: topK(a.TopK)})
			}),
		tool.MustFunctionTool("fundus_record_title_lexical_search",
			"Lexical search for FundusRecords by title, optionally restricted to one FundusCollection.",
			func(ctx context.Context, a recordTitleSearchArgs) (any, error) {
				q := RecordQuery{Query: a.Query, TopK: topK(a.TopK)}
				if a.CollectionName != "" {
					q.Collections = []string{a.CollectionName}
				}
				return s.SearchRecordTitles(ctx, q)
			}),
	}}
}

// SimilaritySearch returns the embedding based search tools.
func (k *Toolkit) SimilaritySearch() tool.Group {
	return tool.Group{Name: SimilaritySearchGroup, Tools: []tool.Tool{
		tool.MustFunctionTool("fundus_collection_title_similarity_search",
			"Find FundusCollections whose titles are semantically similar to the query.",
			func(ctx context.Context, a collectionSearchArgs) (any, error) {
				return k.similarCollections(ctx, CollectionTitleVector, a)
			}),
		tool.MustFunctionTool("fundus_collection_description_similarity_search",
			"Find FundusCollections whose descriptions are semantically similar to the query.",
			func(ctx context.Context, a collectionSearchArgs) (any, error) {
				return k.similarCollections(ctx, CollectionDescriptionVector, a)
			}),
		tool.MustFunctionTool("find_fundus_records_with_similar_image",
			"Find FundusRecords with images similar to the image of the FundusRecord with the given murag_id.",
			func(ctx context.Context, a similarImageArgs) (any, error) {
				img, err := k.store.RecordImage(ctx, a.MuragID)
				if err != nil {
					return nil, err
				}
				return k.similarRecordsToImage(ctx, img.Base64Image, a.Collections, a.TopK)
			}),
		tool.MustFunctionTool("find_fundus_records_with_images_similar_to_the_text_query",
			"Cross-modal search: find FundusRecords whose images match the text query.",
			func(ctx context.Context, a recordTextSimilarityArgs) (any, error) {
				return k.similarRecordsToText(ctx, RecordImageVector, a)
			}),
		tool.MustFunctionTool("find_fundus_records_with_images_similar_to_the_user_image",
			"Find FundusRecords with images similar to an image the user provided.",
			func(ctx context.Context, a userImageArgs) (any, error) {
				if k.opts.Images == nil {
					return nil, errNoImages
				}
				b64, err := k.opts.Images.Base64(a.UserImageID)
				if err != nil {
					return nil, err
				}
				return k.similarRecordsToImage(ctx, b64, a.Collections, a.TopK)
			}),
		tool.MustFunctionTool("find_fundus_records_with_titles_similar_to_the_text_query",
			"Find FundusRecords whose titles are semantically similar to the text query.",
			func(ctx context.Context, a recordTextSimilarityArgs) (any, error) {
				return k.similarRecordsToText(ctx, RecordTitleVector, a)
			}),
	}}
}

func (k *Toolkit) similarCollections(ctx context.Context, target CollectionVector, a collectionSearchArgs) ([]CollectionSearchResult, error) {
	if k.opts.Embedder == nil {
		return nil, errNoEmbedder
	}

	emb, err := k.opts.Embedder.EmbedText(ctx, a.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	return k.store.SimilarCollections(ctx, target, SimilarityQuery{Embedding: emb, TopK: topK(a.TopK)})
}

func (k *Toolkit) similarRecordsToText(ctx context.Context, target RecordVector, a recordTextSimilarityArgs) ([]RecordSearchResult, error) {
	if k.opts.Embedder == nil {
		return nil, errNoEmbedder
	}

	query := a.Query
	if target == RecordImageVector {
		query = k.rewriteForImageSearch(ctx, query)
	}

	emb, err := k.opts.Embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	return k.store.SimilarRecords(ctx, target, SimilarityQuery{Embedding: emb, TopK: topK(a.TopK), Collections: a.Collections})
}

// rewriteForImageSearch asks a one-shot assistant for a caption-like version
// of query. Any failure falls back to the original query.
func (k *Toolkit) rewriteForImageSearch(ctx context.Context, query string) string {
	if k.opts.QueryRewriter == nil {
		return query
	}

	assistant, err := k.opts.QueryRewriter(QueryRewriterTextImageInstruction)
	if err != nil {
		k.opts.Logger.Warn("fundus.query.rewrite_failed", "error", err.Error())
		return query
	}

	rewritten, err := assistant.SendUserMessage(ctx, query, "")
	if err != nil {
		k.opts.Logger.Warn("fundus.query.rewrite_failed", "error", err.Error())
		return query
	}

	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return query
	}

	k.opts.Logger.Debug("fundus.query.rewritten", "query", query, "rewritten", rewritten)

	return rewritten
}

func (k *Toolkit) similarRecordsToImage(ctx context.Context, base64Image string, collections []string, n int) ([]RecordSearchResult, error) {
	if k.opts.Embedder == nil {
		return nil, errNoEmbedder
	}

	emb, err := k.opts.Embedder.EmbedImage(ctx, base64Image)
	if err != nil {
		return nil, fmt.Errorf("embed image: %w", err)
	}

	return k.store.SimilarRecords(ctx, RecordImageVector, SimilarityQuery{Embedding: emb, TopK: topK(n), Collections: collections})
}

// ImageAnalysis returns the tools that run a vision assistant over record images.
func (k *Toolkit) ImageAnalysis() tool.Group {
	return tool.Group{Name: ImageAnalysisGroup, Tools: []tool.Tool{
		tool.MustFunctionTool("answer_question_about_fundus_record_image",
			"Visual question answering: answer a question about the image of the FundusRecord with the given murag_id.",
			func(ctx context.Context, a questionArgs) (any, error) {
				return k.analyze(ctx, VQAInstruction, a.MuragID, func(details string) string {
					return "# Question\n\n'''\n" + a.Question + "\n'''\n\n" + details
				})
			}),
		tool.MustFunctionTool("generate_caption_for_fundus_record_image",
			"Generate a caption for the image of the FundusRecord with the given murag_id.",
			func(ctx context.Context, a captionArgs) (any, error) {
				style := "concise"
				if a.Detailed {
					style = "detailed"
				}
				return k.analyze(ctx, CaptionInstruction, a.MuragID, func(details string) string {
					return "Generate a " + style + " caption for the image considering the metadata.\n\n" + details
				})
			}),
		tool.MustFunctionTool("extract_text_from_fundus_record_image",
			"Optical character recognition: extract the text from the image of the FundusRecord with the given murag_id.",
			func(ctx context.Context, a muragIDArgs) (any, error) {
				return k.analyze(ctx, OCRInstruction, a.MuragID, func(details string) string {
					return "Extract all text from the image considering the metadata.\n\n" + details
				})
			}),
		tool.MustFunctionTool("detect_objects_in_fundus_record_image",
			"Object detection: detect the objects in the image of the FundusRecord with the given murag_id.",
			func(ctx context.Context, a muragIDArgs) (any, error) {
				return k.analyze(ctx, ObjectDetectionInstruction, a.MuragID, func(details string) string {
					return "Detect all objects in the image considering the metadata.\n\n" + details
				})
			}),
	}}
}

func (k *Toolkit) analyze(ctx context.Context, instruction, muragID string, prompt func(details string) string) (string, error) {
	if k.opts.Vision == nil {
		return "", errNoVision
	}

	rec, err := k.store.RecordByMuragID(ctx, muragID)
	if err != nil {
		return "", err
	}

	img, err := k.store.RecordImage(ctx, muragID)
	if err != nil {
		return "", err
	}

	details, err := metadataBlock(rec.Details)
	if err != nil {
		return "", err
	}

	assistant, err := k.opts.Vision(instruction)
	if err != nil {
		return "", fmt.Errorf("build vision assistant: %w", err)
	}

	k.opts.Logger.Debug("fundus.image.analyze", "murag_id", muragID, "model", assistant.ModelName())

	return assistant.SendUserMessage(ctx, prompt(details), img.DataURL())
}

func metadataBlock(details map[string]string) (string, error) {
	if details == nil {
		details = map[string]string{}
	}

	raw, err := json.MarshalIndent(details, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# Metadata as JSON\n\n```json\n")
	b.Write(raw)
	b.WriteString("\n```\n")

	return b.String(), nil
}

// Groups returns all tool groups.
func (k *Toolkit) Groups() []tool.Group {
	return []tool.Group{k.Lookup(), k.LexicalSearch(), k.SimilaritySearch(), k.ImageAnalysis()}
}
