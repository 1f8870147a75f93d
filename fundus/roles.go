package fundus

import (
	"fmt"

	"github.com/hupe1980/fundusmesh/concierge"
	"github.com/hupe1980/fundusmesh/logging"
	"github.com/hupe1980/fundusmesh/tool"
)

// Specialist role ids.
const (
	RoleDBLookup      = "db_lookup"
	RoleSimSearch     = "sim_search"
	RoleLexSearch     = "lex_search"
	RoleImageAnalysis = "img_analysis"
)

// DefaultRoles returns the four FUNDus! specialists, each with its own tool
// registry.
func DefaultRoles(k *Toolkit) ([]concierge.Role, error) {
	specs := []struct {
		id, name, description, instruction string
		group                              tool.Group
	}{
		{
			RoleDBLookup, "Database Lookup Assistant",
			"Retrieves information and statistics about FundusRecords and FundusCollections from the database, e.g. the total number of records or collections, or a specific record by its ID.",
			DBInteractionInstruction, k.Lookup(),
		},
		{
			RoleSimSearch, "Similarity Search Assistant",
			"Performs similarity searches on FundusRecords and FundusCollections, e.g. records with similar images or titles. Call this assistant if the user does not provide an exact name or ID.",
			DBInteractionInstruction, k.SimilaritySearch(),
		},
		{
			RoleLexSearch, "Lexical Search Assistant",
			"Performs lexical searches on FundusRecords and FundusCollections based on keywords or phrases. Call this assistant if the user provides exact terms or phrases.",
			DBInteractionInstruction, k.LexicalSearch(),
		},
		{
			RoleImageAnalysis, "Image Analysis Assistant",
			"Analyzes the images of FundusRecords: answers questions about an image, describes it in detail or reads text from it. Call this assistant if the user requests image analysis of a FundusRecord.",
			ImageAnalysisInstruction, k.ImageAnalysis(),
		},
	}

	roles := make([]concierge.Role, 0, len(specs))
	for _, s := range specs {
		reg, err := k.registry(s.group)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", s.id, err)
		}
		roles = append(roles, concierge.Role{
			ID:          s.id,
			Name:        s.name,
			Description: s.description,
			Instruction: s.instruction,
			Tools:       reg,
		})
	}

	return roles, nil
}

// AllTools returns one registry holding every tool group, for single
// assistant mode.
func AllTools(k *Toolkit) (*tool.Registry, error) {
	return k.registry(k.Groups()...)
}

func (k *Toolkit) registry(groups ...tool.Group) (*tool.Registry, error) {
	reg, err := tool.NewRegistry()
	if err != nil {
		return nil, err
	}

	reg.SetLogger(logging.OrNoOp(k.opts.Logger))

	for _, g := range groups {
		if err := reg.AddGroup(g); err != nil {
			return nil, err
		}
	}

	return reg, nil
}
