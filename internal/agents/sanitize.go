package agents

import (
	"fmt"
	"regexp"
	"strings"
)

// Input validators applied before any value reaches an outbound URL. The
// validator layer guarantees types; these guarantee the values cannot smuggle
// path segments or query syntax into a request.
var (
	namePattern   = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	regionPattern = regexp.MustCompile(`^[a-z]{2}-[a-z]+-\d$`)
	bucketPattern = regexp.MustCompile(`^[a-z0-9.-]{3,63}$`)
	emailPattern  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

func validateName(value, label string) error {
	if !namePattern.MatchString(value) {
		return fmt.Errorf("%s contains invalid characters", label)
	}
	return nil
}

// splitRepo parses an "owner/name" repository reference and validates both
// halves.
func splitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("repo must be in owner/name form, got %q", repo)
	}
	if err := validateName(owner, "owner name"); err != nil {
		return "", "", err
	}
	if err := validateName(name, "repository name"); err != nil {
		return "", "", err
	}
	return owner, name, nil
}

func validateBranch(name string) error {
	if name == "" || strings.Contains(name, " ") {
		return fmt.Errorf("branch name is invalid")
	}
	return nil
}

func validatePath(path string) error {
	if strings.Contains(path, "..") || strings.HasPrefix(path, "/") {
		return fmt.Errorf("path contains invalid traversal characters")
	}
	return nil
}

func validateRegion(region string) error {
	if !regionPattern.MatchString(region) {
		return fmt.Errorf("region format is invalid")
	}
	return nil
}

func validateBucket(bucket string) error {
	if !bucketPattern.MatchString(bucket) {
		return fmt.Errorf("bucket name is invalid")
	}
	return nil
}

func validateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("email address is invalid")
	}
	return nil
}
