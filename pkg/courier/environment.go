package courier

const (
	ProductionHost = "https://shipping.citibox.com"
	SandboxHost    = "https://shipping.citibox-sandbox.com"

	// EndpointLocation is the standard deep-link endpoint.
	EndpointLocation = "location"
	// EndpointTest renders the debug view of the workflow.
	EndpointTest = "test"
)

// Environment is where a workflow request is sent: a host, the operation path
// and the endpoint under it.
type Environment struct {
	Host     string
	Path     string
	Endpoint string
}

// ResolveEnvironment derives the environment from the operation and flags.
// The host depends on sandbox only; debug only switches the endpoint.
func ResolveEnvironment(kind OperationKind, sandbox, debug bool) Environment {
	env := Environment{
		Host:     ProductionHost,
		Path:     kind.String(),
		Endpoint: EndpointLocation,
	}
	if sandbox {
		env.Host = SandboxHost
	}
	if debug {
		env.Endpoint = EndpointTest
	}
	return env
}

// Base returns {host}/{path}/{endpoint}.
func (e Environment) Base() string {
	return e.Host + "/" + e.Path + "/" + e.Endpoint
}
