// Package capability declares which agents expose which operations, with each
// operation's argument names, types and semantic rules. The registry is the
// single source of truth for both the planner prompt and plan validation: it
// is built once at process start and never mutated.
package capability

import (
	"sort"
	"strings"
)

// ArgType is the expected primitive type of an operation argument.
type ArgType string

const (
	ArgTypeString ArgType = "string"
	ArgTypeInt    ArgType = "int"
	ArgTypeFloat  ArgType = "float"
	ArgTypeBool   ArgType = "bool"
	ArgTypeList   ArgType = "list"
)

// EnumPolicy restricts a string value (or every element of a list value) to a
// closed set. Comparison mode is declared per enum because different
// operations need different strictness: provisioning service names are
// matched exactly, directory group names are matched case-insensitively and
// normalized to their canonical casing.
type EnumPolicy struct {
	Values        []string
	CaseSensitive bool
}

// Match reports whether v belongs to the enum and returns its canonical form.
func (p *EnumPolicy) Match(v string) (string, bool) {
	for _, allowed := range p.Values {
		if p.CaseSensitive {
			if v == allowed {
				return allowed, true
			}
		} else if strings.EqualFold(v, allowed) {
			return allowed, true
		}
	}
	return "", false
}

// Sorted returns the enum values in ascending order, for error messages.
func (p *EnumPolicy) Sorted() []string {
	out := make([]string, len(p.Values))
	copy(out, p.Values)
	sort.Strings(out)
	return out
}

// ArgSpec describes one operation argument.
type ArgSpec struct {
	Type     ArgType
	Required bool
	// Enum restricts a string argument to a closed set.
	Enum *EnumPolicy
	// ElementEnum restricts every element of a list argument to a closed
	// set. The validated list is deduplicated and sorted ascending so the
	// canonical form is order-independent.
	ElementEnum *EnumPolicy
}

// OperationSpec describes one operation: its argument table plus an optional
// guard expression evaluated over the validated arguments (govaluate syntax,
// must yield a boolean). Guards referencing an absent optional argument are
// skipped.
type OperationSpec struct {
	Description string
	Args        map[string]ArgSpec
	Guard       string
}

// Registry maps provider name to operation name to spec.
type Registry map[string]map[string]OperationSpec

// Operation looks up the spec for a provider/operation pair.
func (r Registry) Operation(provider, operation string) (OperationSpec, bool) {
	ops, ok := r[provider]
	if !ok {
		return OperationSpec{}, false
	}
	spec, ok := ops[operation]
	return spec, ok
}

// HasProvider reports whether the provider is registered.
func (r Registry) HasProvider(provider string) bool {
	_, ok := r[provider]
	return ok
}

// ProviderDescription lists a provider and its operation names, for the
// planner prompt. Argument schemas are deliberately not exposed to the model.
type ProviderDescription struct {
	Name       string   `json:"name"`
	Operations []string `json:"operations"`
}

// Describe returns provider/operation names in stable sorted order.
func (r Registry) Describe() []ProviderDescription {
	providers := make([]string, 0, len(r))
	for name := range r {
		providers = append(providers, name)
	}
	sort.Strings(providers)

	out := make([]ProviderDescription, 0, len(providers))
	for _, name := range providers {
		ops := make([]string, 0, len(r[name]))
		for op := range r[name] {
			ops = append(ops, op)
		}
		sort.Strings(ops)
		out = append(out, ProviderDescription{Name: name, Operations: ops})
	}
	return out
}

// Enumerated sets referenced by the default registry.
var (
	// ProvisionServices are the services the CI runner can provision
	// access to. Matched exactly: the downstream pipeline is case-strict.
	ProvisionServices = &EnumPolicy{
		Values:        []string{"AWS", "GitHub", "Confluence", "Database"},
		CaseSensitive: true,
	}
	// IAMGroups are the deployable IAM user groups. Matched exactly.
	IAMGroups = &EnumPolicy{
		Values:        []string{"AppBackend", "AppFrontend", "DataPlatform"},
		CaseSensitive: true,
	}
	// DirectoryGroups are directory group names. The directory service is
	// case-preserving but case-insensitive on lookup, so membership here
	// is case-insensitive and values normalize to canonical casing.
	DirectoryGroups = &EnumPolicy{
		Values:        []string{"Engineering", "Operations", "Security"},
		CaseSensitive: false,
	}
)

// Default builds the static capability registry.
func Default() Registry {
	return Registry{
		"SourceControl": {
			"GetPullRequest": {
				Description: "Fetch pull request details with truncated patches",
				Args: map[string]ArgSpec{
					"repo":   {Type: ArgTypeString, Required: true},
					"number": {Type: ArgTypeInt, Required: true},
				},
				Guard: "number > 0",
			},
			"ListCommits": {
				Description: "List recent commits on a branch",
				Args: map[string]ArgSpec{
					"repo":   {Type: ArgTypeString, Required: true},
					"branch": {Type: ArgTypeString, Required: true},
					"limit":  {Type: ArgTypeInt, Required: false},
				},
				Guard: "limit >= 1 && limit <= 50",
			},
			"GetFile": {
				Description: "Fetch a repository file at a ref",
				Args: map[string]ArgSpec{
					"repo": {Type: ArgTypeString, Required: true},
					"path": {Type: ArgTypeString, Required: true},
					"ref":  {Type: ArgTypeString, Required: true},
				},
			},
		},
		"CloudInfra": {
			"ListBuckets": {
				Description: "List storage buckets",
				Args:        map[string]ArgSpec{},
			},
			"DescribeInstances": {
				Description: "Describe compute instances in a region",
				Args: map[string]ArgSpec{
					"region": {Type: ArgTypeString, Required: true},
				},
			},
			"GetObjectMetadata": {
				Description: "Fetch object metadata without downloading content",
				Args: map[string]ArgSpec{
					"bucket": {Type: ArgTypeString, Required: true},
					"key":    {Type: ArgTypeString, Required: true},
				},
			},
		},
		"IssueTracker": {
			"GetIssue": {
				Description: "Fetch issue details with limited comments",
				Args: map[string]ArgSpec{
					"issue_key": {Type: ArgTypeString, Required: true},
				},
			},
			"SearchIssues": {
				Description: "Search issues with a query",
				Args: map[string]ArgSpec{
					"query": {Type: ArgTypeString, Required: true},
					"limit": {Type: ArgTypeInt, Required: false},
				},
				Guard: "limit >= 1 && limit <= 50",
			},
		},
		"CIRunner": {
			"ProvisionAccess": {
				Description: "Trigger the access-provisioning pipeline for a user",
				Args: map[string]ArgSpec{
					"user_email":  {Type: ArgTypeString, Required: true},
					"services":    {Type: ArgTypeList, Required: true, ElementEnum: ProvisionServices},
					"cc_email":    {Type: ArgTypeString, Required: false},
					"iam_group":   {Type: ArgTypeString, Required: false, Enum: IAMGroups},
					"team":        {Type: ArgTypeString, Required: false},
					"environment": {Type: ArgTypeString, Required: false},
				},
			},
		},
		"Directory": {
			"GetUser": {
				Description: "Fetch a directory user profile",
				Args: map[string]ArgSpec{
					"user_email": {Type: ArgTypeString, Required: true},
				},
			},
			"AddToGroup": {
				Description: "Add a user to a directory group",
				Args: map[string]ArgSpec{
					"user_email": {Type: ArgTypeString, Required: true},
					"group":      {Type: ArgTypeString, Required: true, Enum: DirectoryGroups},
				},
			},
		},
	}
}
