// Package policy decides whether a cluster is opted into monitoring via
// its ECS tags.
package policy

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/opsdrift/ecswatch/internal/faults"
)

// ClusterTagsAPI is the subset of the ECS client used to fetch cluster tags.
type ClusterTagsAPI interface {
	DescribeClusters(ctx context.Context, params *ecs.DescribeClustersInput, optFns ...func(*ecs.Options)) (*ecs.DescribeClustersOutput, error)
}

// ClusterPolicy answers monitoring opt-in queries against cluster tags.
type ClusterPolicy struct {
	ecs ClusterTagsAPI
	log *slog.Logger
}

// New creates a ClusterPolicy using the given ECS client.
func New(ecsClient ClusterTagsAPI, logger *slog.Logger) *ClusterPolicy {
	return &ClusterPolicy{ecs: ecsClient, log: logger}
}

// IsMonitored reports whether the cluster carries the monitoring tag. An
// unset tag key or value fails closed: it returns false without querying.
// Matching is exact and case-sensitive. Missing or non-matching tags are
// false, never an error.
func (p *ClusterPolicy) IsMonitored(ctx context.Context, clusterARN, tagKey, tagValue string) (bool, error) {
	if tagKey == "" || tagValue == "" {
		return false, nil
	}

	out, err := p.ecs.DescribeClusters(ctx, &ecs.DescribeClustersInput{
		Clusters: []string{clusterARN},
		Include:  []ecstypes.ClusterField{ecstypes.ClusterFieldTags},
	})
	if err != nil {
		return false, faults.Wrap(faults.PolicyQuery, "ecs.DescribeClusters", err)
	}
	if len(out.Clusters) == 0 {
		return false, faults.New(faults.PolicyQuery, "ecs.DescribeClusters", "cluster not found")
	}

	p.log.Info("checking cluster tags",
		"cluster", clusterARN,
		"tag_key", tagKey,
		"tag_value", tagValue)

	for _, tag := range out.Clusters[0].Tags {
		if aws.ToString(tag.Key) == tagKey && aws.ToString(tag.Value) == tagValue {
			p.log.Info("cluster is enabled for monitoring", "cluster", clusterARN)
			return true, nil
		}
	}

	p.log.Info("cluster tags do not match, cluster is not enabled for monitoring", "cluster", clusterARN)
	return false, nil
}
