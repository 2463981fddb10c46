package nodefacts

import "regexp"

// NodeKind classifies the underlying platform of a container instance.
type NodeKind int

const (
	// KindEC2Instance is a directly provisioned EC2 virtual machine.
	KindEC2Instance NodeKind = iota
	// KindExternal is an externally registered node (ECS Anywhere),
	// managed through SSM.
	KindExternal
)

func (k NodeKind) String() string {
	if k == KindEC2Instance {
		return "ec2-instance"
	}
	return "external"
}

// EC2 instance ids are "i-" followed by 8 or 17 lowercase hex characters.
var ec2InstanceID = regexp.MustCompile(`^i-(?:[a-f\d]{8}|[a-f\d]{17})$`)

// Classify determines the node kind from its platform identifier. Anything
// that does not look like an EC2 instance id is treated as an externally
// registered node, e.g. the "mi-..." ids SSM assigns to ECS Anywhere nodes.
func Classify(nodeID string) NodeKind {
	if ec2InstanceID.MatchString(nodeID) {
		return KindEC2Instance
	}
	return KindExternal
}
