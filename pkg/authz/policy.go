package authz

// DefaultPolicyTable is the static route-signature → policy-entry table the
// permission middleware resolves against. Keys are "METHOD /path" using the
// mux's registered patterns. A route absent from the table has no policy
// and is denied NO_POLICY when guarded.
var DefaultPolicyTable = map[string]*PolicyEntry{
	"POST /admin/bundles":                        {Resource: "bundle", Action: "create"},
	"PATCH /admin/bundles/{bundleId}":            {Resource: "bundle", Action: "update"},
	"DELETE /admin/bundles/{bundleId}":           {Resource: "bundle", Action: "delete"},
	"POST /admin/bundles/{bundleId}/build":       {Resource: "bundle", Action: "build", V1AllowExecutor: true},
	"GET /admin/bundles":                         {Resource: "bundle", Action: "read", V1AllowExecutor: true},
	"GET /admin/bundles/{bundleId}":              {Resource: "bundle", Action: "read", V1AllowExecutor: true},
	"GET /admin/bundles/{bundleId}/build/status": {Resource: "bundle", Action: "read", V1AllowExecutor: true},
	"GET /admin/recipients":                      {Resource: "recipient", Action: "read", V1AllowExecutor: true},
	"POST /admin/recipients":                     {Resource: "recipient", Action: "create"},
	"POST /admin/permissions/simulate":           {Resource: "permission", Action: "simulate", V1AllowExecutor: true},
}

// PolicyFor resolves a route signature against DefaultPolicyTable. Nil
// means no policy entry exists for the signature.
func PolicyFor(signature string) *PolicyEntry {
	return DefaultPolicyTable[signature]
}
