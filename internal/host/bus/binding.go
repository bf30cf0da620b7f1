// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package bus

// Binding is the identity a subscription is attached to.
type Binding interface {
	InstanceID() string
	AppID() string
}

// AppBinding identifies one loaded instance of an application. The instance id
// is unique per load; the application id is shared by every instance of the
// same application.
type AppBinding struct {
	Instance string
	App      string
}

func (b AppBinding) InstanceID() string { return b.Instance }
func (b AppBinding) AppID() string      { return b.App }

// TokenBinding is the opaque identity of a container-level listener that is
// not itself an application, such as the hosting shell.
type TokenBinding string

func (t TokenBinding) InstanceID() string { return string(t) }
func (t TokenBinding) AppID() string      { return string(t) }
