// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Id identifies a catalog entry.
type Id int

const (
	ConfigLoadFailedId Id = iota + 1
	ConfigInvalidId
	SymbolNotFoundId
	NotPermittedId
	MalformedKeyId
	UnitImportFailedId
	ProbeRejectedId
	UnconfiguredContextKeyId
	RegistryConstructionFailedId
)

// MarkdownMsg is catalog text rendered with glamour.
type MarkdownMsg string

// HttpLink is a documentation URL.
type HttpLink string

// Issue is a catalog entry: Markdown guidance for one failure class.
type Issue struct {
	id       Id
	mdMsg    MarkdownMsg
	docLinks []HttpLink
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

// Render renders the guidance for a terminal. stylePath is a glamour style
// name ("dark", "light", "notty") or a JSON style file.
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration

A modkit option file could not be read or parsed.

## Things you can try:
- Check the syntax for the file format (modkit.cue, modkit.toml, modkit.yaml)
- Remove the file to fall back to the defaults
- Override single options with MODKIT_* environment variables`,
	}

	configInvalidIssue = &Issue{
		id: ConfigInvalidId,
		mdMsg: `
# Invalid configuration value

The options parsed but hold values modkit does not accept.

## Things you can try:
- log_level must be one of debug, info, warn, error, fatal
- optimization_order entries must be between 0 and 2
- providers map a module name to a plain unit name without dots`,
	}

	symbolNotFoundIssue = &Issue{
		id: SymbolNotFoundId,
		mdMsg: `
# Function not available

No loaded unit registers the requested "module.function" key.

## Things you can try:
- Check the unit file exists in one of the search directories
- Check its __virtual__ probe accepts this host
- Make sure the function is not private (leading underscore)`,
	}

	notPermittedIssue = &Issue{
		id: NotPermittedId,
		mdMsg: `
# Module not permitted

The registry has a whitelist and the module is not on it.

## Things you can try:
- Add the module to whitelist_modules`,
	}

	malformedKeyIssue = &Issue{
		id: MalformedKeyId,
		mdMsg: `
# Malformed key

Function keys have the form "module.function".`,
	}

	unitImportFailedIssue = &Issue{
		id: UnitImportFailedId,
		mdMsg: `
# Unit failed to load

The unit was found but importing it or running its __init__ failed.

## Things you can try:
- Run the script with sh -n to check its syntax
- Check the log output for the failing unit and its stderr`,
	}

	probeRejectedIssue = &Issue{
		id: ProbeRejectedId,
		mdMsg: `
# Unit rejected by its probe

The unit's __virtual__ function declined to load on this host.

## Things you can try:
- Read the reason returned by the probe in the error message
- In proxy mode, list the proxytype in __proxyenabled__`,
	}

	unconfiguredContextKeyIssue = &Issue{
		id: UnconfiguredContextKeyId,
		mdMsg: `
# Unconfigured context key

A unit resolved a context cell the active registry never packed. This is
a registry construction mistake, not a runtime condition.

## Things you can try:
- Pack the cell with WithPack when building the registry`,
	}

	registryConstructionFailedIssue = &Issue{
		id: RegistryConstructionFailedId,
		mdMsg: `
# Registry could not be built

The loader options are inconsistent or a packed value could not be resolved.`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():           configLoadFailedIssue,
		configInvalidIssue.Id():              configInvalidIssue,
		symbolNotFoundIssue.Id():             symbolNotFoundIssue,
		notPermittedIssue.Id():               notPermittedIssue,
		malformedKeyIssue.Id():               malformedKeyIssue,
		unitImportFailedIssue.Id():           unitImportFailedIssue,
		probeRejectedIssue.Id():              probeRejectedIssue,
		unconfiguredContextKeyIssue.Id():     unconfiguredContextKeyIssue,
		registryConstructionFailedIssue.Id(): registryConstructionFailedIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int {
		return int(a.id) - int(b.id)
	})
}

// Get returns the catalog entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
