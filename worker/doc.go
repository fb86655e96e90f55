// Package worker runs translation jobs on a bounded set of goroutines.
//
// A single translation is synchronous; the pool only adds parallelism
// across independent payloads.
//
//	pool := worker.NewPool(eng, 4)
//	defer pool.Close()
//
//	pool.Submit(worker.Job{ID: "obs-1", Direction: openfhir.ToOpenEHR, Payload: data})
//
//	for res := range pool.Results() {
//	    if res.Error != nil {
//	        // handle
//	    }
//	}
package worker
