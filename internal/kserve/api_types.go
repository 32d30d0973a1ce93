package kserve

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
)

const gpuResource corev1.ResourceName = "nvidia.com/gpu"

// InferenceService is a read-only view of the serving.kserve.io/v1beta1
// resource, limited to the fields endpoint discovery reads.
type InferenceService struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   InferenceServiceSpec   `json:"spec,omitempty"`
	Status InferenceServiceStatus `json:"status,omitempty"`
}

type InferenceServiceSpec struct {
	Predictor PredictorSpec `json:"predictor"`
}

type PredictorSpec struct {
	Model *PredictorModel `json:"model,omitempty"`
}

// PredictorModel is the model section of a predictor.
type PredictorModel struct {
	Runtime    *string                     `json:"runtime,omitempty"`
	StorageURI *string                     `json:"storageUri,omitempty"`
	Resources  corev1.ResourceRequirements `json:"resources,omitempty"`
}

// InferenceServiceStatus is the observed state reported by the KServe controller.
type InferenceServiceStatus struct {
	Conditions []StatusCondition `json:"conditions,omitempty"`
	URL        string            `json:"url,omitempty"`
}

// StatusCondition follows the Knative condition schema.
type StatusCondition struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// IsReady returns true if the service has a Ready=True condition.
func (s *InferenceServiceStatus) IsReady() bool {
	c := s.readyCondition()
	return c != nil && c.Status == "True"
}

func (s *InferenceServiceStatus) readyCondition() *StatusCondition {
	for i := range s.Conditions {
		if s.Conditions[i].Type == "Ready" {
			return &s.Conditions[i]
		}
	}
	return nil
}

// GPUs returns the GPU limit of the predictor, or zero.
func (isvc *InferenceService) GPUs() int64 {
	m := isvc.Spec.Predictor.Model
	if m == nil {
		return 0
	}
	if q, ok := m.Resources.Limits[gpuResource]; ok {
		return q.Value()
	}
	if q, ok := m.Resources.Requests[gpuResource]; ok {
		return q.Value()
	}
	return 0
}

func fromUnstructured(obj *unstructured.Unstructured) (*InferenceService, error) {
	isvc := &InferenceService{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, isvc); err != nil {
		return nil, fmt.Errorf("failed to convert unstructured to InferenceService: %w", err)
	}
	return isvc, nil
}
