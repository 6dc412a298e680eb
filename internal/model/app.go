package model

// Permission is the level a collaborator holds on an app.
type Permission string

const (
	PermissionOwner        Permission = "Owner"
	PermissionCollaborator Permission = "Collaborator"
)

// Collaborator describes one entry in an app's collaborator map, keyed by
// the collaborator's email.
type Collaborator struct {
	AccountID  string     `json:"accountId"`
	Permission Permission `json:"permission"`

	// IsCurrentAccount is a view-only flag set when rendering the map for
	// a particular caller; it is never persisted as true.
	IsCurrentAccount bool `json:"isCurrentAccount,omitempty"`
}

// App is a registered application. The collaborator map always holds
// exactly one Owner entry, set at creation to the creating account.
// Deployments are embedded as immutable descriptors; the mutable package
// history lives in a separate PackageHistory record per deployment.
type App struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	AccountID     string                  `json:"accountId"`
	Collaborators map[string]Collaborator `json:"collaborators"`
	Deployments   []Deployment            `json:"deployments"`
	CreatedTime   int64                   `json:"createdTime"`
}

// OwnerEmail returns the email of the app's Owner collaborator. An app
// always has exactly one.
func (a *App) OwnerEmail() string {
	for email, c := range a.Collaborators {
		if c.Permission == PermissionOwner {
			return email
		}
	}
	return ""
}

// Deployment is one release channel of an app (e.g. Staging, Production).
// Key is the opaque client-facing secret devices present to fetch updates;
// it is unique system-wide.
type Deployment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Key         string `json:"key"`
	CreatedTime int64  `json:"createdTime"`
}
