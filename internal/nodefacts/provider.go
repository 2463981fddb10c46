// Package nodefacts resolves the real identity and health of an ECS
// container instance, branching on whether the node is an EC2 instance or
// an externally registered (ECS Anywhere) node.
package nodefacts

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/opsdrift/ecswatch/internal/faults"
)

// NodeState is the resolved snapshot of one node. It is built once per
// record and never mutated; all eligibility decisions read from it.
type NodeState struct {
	NodeID         string
	ClusterARN     string
	Running        bool
	AgentConnected bool
}

// ClusterShortName returns the cluster name segment after the last path
// separator, or the whole identifier when there is none.
func (s NodeState) ClusterShortName() string {
	if i := strings.LastIndex(s.ClusterARN, "/"); i >= 0 {
		return s.ClusterARN[i+1:]
	}
	return s.ClusterARN
}

// ContainerInstanceAPI is the subset of the ECS client used to look up a
// container instance.
type ContainerInstanceAPI interface {
	DescribeContainerInstances(ctx context.Context, params *ecs.DescribeContainerInstancesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeContainerInstancesOutput, error)
}

// InstanceStateAPI is the subset of the EC2 client used to read instance state.
type InstanceStateAPI interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// PingStatusAPI is the subset of the SSM client used to read the heartbeat
// of an externally registered node.
type PingStatusAPI interface {
	DescribeInstanceInformation(ctx context.Context, params *ssm.DescribeInstanceInformationInput, optFns ...func(*ssm.Options)) (*ssm.DescribeInstanceInformationOutput, error)
}

// Provider resolves NodeStates against the ECS, EC2 and SSM APIs.
type Provider struct {
	ecs ContainerInstanceAPI
	ec2 InstanceStateAPI
	ssm PingStatusAPI
	log *slog.Logger
}

// NewProvider creates a Provider using the given API clients.
func NewProvider(ecsClient ContainerInstanceAPI, ec2Client InstanceStateAPI, ssmClient PingStatusAPI, logger *slog.Logger) *Provider {
	return &Provider{ecs: ecsClient, ec2: ec2Client, ssm: ssmClient, log: logger}
}

// Resolve looks up the container instance in its cluster and returns the
// node's resolved state. All upstream failures, including a missing record,
// surface as resolution faults.
func (p *Provider) Resolve(ctx context.Context, containerInstanceARN, clusterARN string) (NodeState, error) {
	out, err := p.ecs.DescribeContainerInstances(ctx, &ecs.DescribeContainerInstancesInput{
		Cluster:            aws.String(clusterARN),
		ContainerInstances: []string{containerInstanceARN},
	})
	if err != nil {
		return NodeState{}, faults.Wrap(faults.Resolution, "ecs.DescribeContainerInstances", err)
	}
	if len(out.ContainerInstances) == 0 {
		return NodeState{}, faults.New(faults.Resolution, "ecs.DescribeContainerInstances", "no matching container instance")
	}

	ci := out.ContainerInstances[0]
	nodeID := aws.ToString(ci.Ec2InstanceId)
	p.log.Info("checking node", "node_id", nodeID)

	var running bool
	switch Classify(nodeID) {
	case KindEC2Instance:
		running, err = p.isEC2Running(ctx, nodeID)
	case KindExternal:
		running, err = p.isExternalNodeOnline(ctx, nodeID)
	}
	if err != nil {
		return NodeState{}, err
	}

	return NodeState{
		NodeID:         nodeID,
		ClusterARN:     clusterARN,
		Running:        running,
		AgentConnected: ci.AgentConnected,
	}, nil
}

func (p *Provider) isEC2Running(ctx context.Context, nodeID string) (bool, error) {
	out, err := p.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{nodeID},
	})
	if err != nil {
		return false, faults.Wrap(faults.Resolution, "ec2.DescribeInstances", err)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return false, faults.New(faults.Resolution, "ec2.DescribeInstances", "instance not found")
	}

	state := out.Reservations[0].Instances[0].State
	return state != nil && state.Name == ec2types.InstanceStateNameRunning, nil
}

func (p *Provider) isExternalNodeOnline(ctx context.Context, nodeID string) (bool, error) {
	out, err := p.ssm.DescribeInstanceInformation(ctx, &ssm.DescribeInstanceInformationInput{
		Filters: []ssmtypes.InstanceInformationStringFilter{
			{Key: aws.String("InstanceIds"), Values: []string{nodeID}},
		},
	})
	if err != nil {
		return false, faults.Wrap(faults.Resolution, "ssm.DescribeInstanceInformation", err)
	}
	if len(out.InstanceInformationList) == 0 {
		return false, faults.New(faults.Resolution, "ssm.DescribeInstanceInformation", "managed node not found")
	}

	return out.InstanceInformationList[0].PingStatus == ssmtypes.PingStatusOnline, nil
}
