package permission

import (
	"sort"

	"guild-server/internal/models"
)

// Capability names one grantable action. The string values are stable and
// appear in the HTTP API.
type Capability string

const (
	SendMessages         Capability = "SendMessages"
	DeleteOthersMessages Capability = "DeleteOthersMessages"
	TimeoutUser          Capability = "TimeoutUser"
	BanUser              Capability = "BanUser"
	EditChannels         Capability = "EditChannels"
	AddChannels          Capability = "AddChannels"
	EditServerSettings   Capability = "EditServerSettings"
	ManageRoles          Capability = "ManageRoles"
	AssignRoles          Capability = "AssignRoles"
)

// accessor reaches the field backing a capability on both permission rows.
// channel is nil for capabilities that cannot be overridden per channel.
type accessor struct {
	role    func(*models.RolePermissions) *bool
	channel func(*models.ChannelRolePermission) **bool
}

var capabilities = map[Capability]accessor{
	SendMessages: {
		role:    func(p *models.RolePermissions) *bool { return &p.SendMessages },
		channel: func(o *models.ChannelRolePermission) **bool { return &o.SendMessages },
	},
	DeleteOthersMessages: {
		role:    func(p *models.RolePermissions) *bool { return &p.DeleteOthersMessages },
		channel: func(o *models.ChannelRolePermission) **bool { return &o.DeleteOthersMessages },
	},
	TimeoutUser: {
		role:    func(p *models.RolePermissions) *bool { return &p.TimeoutUser },
		channel: func(o *models.ChannelRolePermission) **bool { return &o.TimeoutUser },
	},
	BanUser: {
		role:    func(p *models.RolePermissions) *bool { return &p.BanUser },
		channel: func(o *models.ChannelRolePermission) **bool { return &o.BanUser },
	},
	EditChannels: {
		role:    func(p *models.RolePermissions) *bool { return &p.EditChannels },
		channel: func(o *models.ChannelRolePermission) **bool { return &o.EditChannels },
	},
	AddChannels: {
		role:    func(p *models.RolePermissions) *bool { return &p.AddChannels },
		channel: func(o *models.ChannelRolePermission) **bool { return &o.AddChannels },
	},
	EditServerSettings: {
		role:    func(p *models.RolePermissions) *bool { return &p.EditServerSettings },
		channel: func(o *models.ChannelRolePermission) **bool { return &o.EditServerSettings },
	},
	ManageRoles: {
		role:    func(p *models.RolePermissions) *bool { return &p.ManageRoles },
		channel: func(o *models.ChannelRolePermission) **bool { return &o.ManageRoles },
	},
	AssignRoles: {
		role:    func(p *models.RolePermissions) *bool { return &p.AssignRoles },
		channel: func(o *models.ChannelRolePermission) **bool { return &o.AssignRoles },
	},
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	_, ok := capabilities[c]
	return ok
}

// Overridable reports whether c can be set per channel.
func (c Capability) Overridable() bool {
	return capabilities[c].channel != nil
}

// All returns every capability sorted by name.
func All() []Capability {
	out := make([]Capability, 0, len(capabilities))
	for c := range capabilities {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Granted reads c from p. A nil set or unknown capability grants nothing.
func Granted(p *models.RolePermissions, c Capability) bool {
	acc, ok := capabilities[c]
	if !ok || p == nil {
		return false
	}
	return *acc.role(p)
}

// Set writes c on p. It returns false for an unknown capability.
func Set(p *models.RolePermissions, c Capability, v bool) bool {
	acc, ok := capabilities[c]
	if !ok {
		return false
	}
	*acc.role(p) = v
	return true
}

// Override reads the tri-state override for c; nil means inherit.
func Override(o *models.ChannelRolePermission, c Capability) *bool {
	acc, ok := capabilities[c]
	if !ok || acc.channel == nil || o == nil {
		return nil
	}
	return *acc.channel(o)
}

// SetOverride writes the tri-state override for c. It returns false if c is
// unknown or not overridable.
func SetOverride(o *models.ChannelRolePermission, c Capability, v *bool) bool {
	acc, ok := capabilities[c]
	if !ok || acc.channel == nil {
		return false
	}
	*acc.channel(o) = v
	return true
}

// AllGranted returns a set with every capability enabled.
func AllGranted() *models.RolePermissions {
	p := &models.RolePermissions{}
	for _, acc := range capabilities {
		*acc.role(p) = true
	}
	return p
}

// Names lists the capabilities granted by p.
func Names(p *models.RolePermissions) []Capability {
	var out []Capability
	for _, c := range All() {
		if Granted(p, c) {
			out = append(out, c)
		}
	}
	return out
}

// union ORs src into dst.
func union(dst, src *models.RolePermissions) {
	for _, acc := range capabilities {
		if *acc.role(src) {
			*acc.role(dst) = true
		}
	}
}
