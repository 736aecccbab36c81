package manifest

import (
	"encoding/json"
	"fmt"
)

// Listener is a callback function that receives events during the build process.
type Listener func(fmt.Stringer)

func jsonString(v any) string {
	b, _ := json.Marshal(map[string]any{
		fmt.Sprintf("%T", v): v,
	})
	return string(b)
}

// EventDefinitionLoaded is emitted when a package definition is loaded.
type EventDefinitionLoaded struct {
	Path string `json:"path,omitempty"`
}

func (e EventDefinitionLoaded) String() string { return jsonString(e) }

// EventPackageBuilt is emitted when a .deb file is written.
type EventPackageBuilt struct {
	Path         string `json:"path,omitempty"`
	Package      string `json:"package,omitempty"`
	Version      string `json:"version,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	Signed       bool   `json:"signed,omitempty"`
}

func (e EventPackageBuilt) String() string { return jsonString(e) }

// EventChangesWritten is emitted when a .changes file is written.
type EventChangesWritten struct {
	Path   string `json:"path,omitempty"`
	Saved  string `json:"saved,omitempty"`
	Signed bool   `json:"signed,omitempty"`
}

func (e EventChangesWritten) String() string { return jsonString(e) }

// EventSpkBuilt is emitted when a Synology package is written.
type EventSpkBuilt struct {
	Path    string `json:"path,omitempty"`
	Package string `json:"package,omitempty"`
	Version string `json:"version,omitempty"`
}

func (e EventSpkBuilt) String() string { return jsonString(e) }

// EventIndexWritten is emitted when an APT repository index is written.
type EventIndexWritten struct {
	Source   string `json:"source,omitempty"`
	Target   string `json:"target,omitempty"`
	Codename string `json:"codename,omitempty"`
	Signed   bool   `json:"signed,omitempty"`
}

func (e EventIndexWritten) String() string { return jsonString(e) }
