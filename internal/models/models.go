package models

type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

type Detection struct {
	ClassName   string      `json:"class_name"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

type PredictionResponse struct {
	Success         bool        `json:"success"`
	ImageName       string      `json:"image_name"`
	Detections      []Detection `json:"detections"`
	TotalDetections int         `json:"total_detections"`
	InferenceTime   float64     `json:"inference_time"`
	ImageURL        string      `json:"image_url,omitempty"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	AppName     string `json:"app_name"`
	Version     string `json:"version"`
}

type ClassesResponse struct {
	Classes      []string `json:"classes"`
	TotalClasses int      `json:"total_classes"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

type IndexPage struct {
	AppName string
	Version string
	Classes []string
}
