package core

import (
	"strconv"
	"strings"

	"pkt.systems/eclkernel/schema"
)

const (
	implementationName = "eclkernel"
	languageName       = "ecl"
	languageMimetype   = "text/x-ecl"
	languageExtension  = ".ecl"
	eclReferenceURL    = "https://hpccsystems.com/training/documentation/ecl-language-reference/"
)

// kernelInfo builds the kernel_info_reply content. Protocol 4 and older use
// the legacy flat shape with integer version arrays.
func kernelInfo(cfg schema.KernelConfig) map[string]any {
	major, _, err := schema.ParseProtocolVersion(cfg.ProtocolVersion)
	if err != nil {
		major = 5
	}
	languageVersion := cfg.LanguageVersion
	if languageVersion == "" {
		languageVersion = "unknown"
	}
	if major <= 4 {
		return map[string]any{
			"language":         languageName,
			"language_version": versionInts(languageVersion),
			"protocol_version": versionInts(cfg.ProtocolVersion),
		}
	}
	implVersion := cfg.ImplementationVersion
	if implVersion == "" {
		implVersion = "v0.0.0-unknown"
	}
	return map[string]any{
		"status":                 string(schema.ReplyOK),
		"protocol_version":       cfg.ProtocolVersion,
		"implementation":         implementationName,
		"implementation_version": implVersion,
		"language_info": map[string]any{
			"name":           languageName,
			"version":        languageVersion,
			"mimetype":       languageMimetype,
			"file_extension": languageExtension,
		},
		"banner": "eclkernel " + implVersion + "\nECL workunits on " + cfg.Target,
		"help_links": []map[string]string{
			{"text": "ECL Language Reference", "url": eclReferenceURL},
		},
	}
}

func versionInts(version string) []int {
	out := []int{}
	for _, part := range strings.Split(strings.TrimPrefix(version, "v"), ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			break
		}
		out = append(out, n)
	}
	return out
}
