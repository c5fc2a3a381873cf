// Package alpr provides a license plate recognizer that locates plates
// with a YOLO detector and reads them with an OCR model, both running on
// local ONNX Runtime sessions.
//
// Quick start:
//
//	a, err := alpr.New(alpr.WithModelsDir("models/"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer a.Close()
//
//	results, _ := a.Predict(jpegBytes)
//	for _, r := range results {
//	    fmt.Println(r.Plate, r.OCRConfidence) // ABC1234 0.8815
//	}
//
// An ALPR instance serves one prediction at a time; guard it with a mutex
// or create one instance per goroutine. Loading models is expensive —
// create once and reuse.
package alpr
