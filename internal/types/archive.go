package types

// ArchiveBundle is the full export of one issue removed by archive_closed:
// the issue row plus every dependent row across the other tables. Bundles are
// written to the export stream before the rows are deleted, so an archive is
// lossless even though the active tables shrink.
type ArchiveBundle struct {
	Issue        *Issue             `json:"issue" yaml:"issue"`
	Comments     []*Comment         `json:"comments,omitempty" yaml:"comments,omitempty"`
	Events       []*Event           `json:"events,omitempty" yaml:"events,omitempty"`
	Dependencies []*Dependency      `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Labels       []string           `json:"labels,omitempty" yaml:"labels,omitempty"`
	Associations []*FileAssociation `json:"associations,omitempty" yaml:"associations,omitempty"`
}
