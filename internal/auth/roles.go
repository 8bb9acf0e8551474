package auth

// permissions are strings like "agent:run", "job:read_own", "admin:*"
const (
	PermResumeUpload = "resume:upload"
	PermAgentManage  = "agent:manage"
	PermAgentRun     = "agent:run"
	PermJobReadOwn   = "job:read_own"
	PermJobReadAll   = "job:read_all"
	PermAdminAll     = "admin:*"
)

var roleToPerms = map[string][]string{
	"user":  {PermResumeUpload, PermAgentManage, PermAgentRun, PermJobReadOwn},
	"admin": {PermResumeUpload, PermAgentManage, PermAgentRun, PermJobReadAll, PermAdminAll},
}

// PermsForRoles unions the permission sets of every role the user holds.
// Unknown role names grant nothing.
func PermsForRoles(roles []string) map[string]struct{} {
	out := make(map[string]struct{}, 8)
	for _, r := range roles {
		for _, p := range roleToPerms[r] {
			out[p] = struct{}{}
		}
	}
	return out
}
