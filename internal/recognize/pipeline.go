package recognize

import (
	"context"
	"log"
	"sync"

	"gocv.io/x/gocv"

	"faris/internal/embedding"
	"faris/internal/liveness"
	"faris/internal/vision"
)

// EnrollmentChecker answers whether a student belongs to a course.
type EnrollmentChecker interface {
	IsEnrolled(ctx context.Context, studentID string, courseID int) (bool, error)
}

// session is one capture session's liveness state. Its mutex serializes
// observations so two frames from the same session cannot interleave.
type session struct {
	mu sync.Mutex
	ev *liveness.Evaluator
}

// Pipeline wires the per-frame stages together. The locator, encoder and
// gallery are shared; liveness state is kept per session key, so stations
// never see each other's blink and motion history.
type Pipeline struct {
	locator   *vision.Locator
	encoder   *embedding.Encoder
	gallery   *embedding.Gallery
	enrolled  EnrollmentChecker
	tolerance float64
	liveCfg   liveness.Config

	mu       sync.Mutex
	sessions map[string]*session
}

// NewPipeline assembles a pipeline. tolerance is the cosine-distance
// acceptance bound for matching; liveCfg tunes the per-session evaluators.
func NewPipeline(locator *vision.Locator, liveCfg liveness.Config, enc *embedding.Encoder, gallery *embedding.Gallery, enrolled EnrollmentChecker, tolerance float64) *Pipeline {
	return &Pipeline{
		locator:   locator,
		encoder:   enc,
		gallery:   gallery,
		enrolled:  enrolled,
		tolerance: tolerance,
		liveCfg:   liveCfg,
		sessions:  make(map[string]*session),
	}
}

// sessionFor returns the session for the key, creating it on first use.
func (p *Pipeline) sessionFor(key string) *session {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[key]
	if !ok {
		s = &session{ev: liveness.New(p.liveCfg)}
		p.sessions[key] = s
	}
	return s
}

// ProcessFrame runs all faces in the frame through the pipeline. sessionKey
// scopes the liveness history, one key per capture session (the station id
// in practice). courseID scopes the enrollment check; pass 0 to skip it
// (identification only). Recognition never fails per-face: every
// degradation becomes an UnrecognizedFace with a reason.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame gocv.Mat, courseID int, sessionKey string) ([]FaceResult, error) {
	framesProcessed.Inc()

	faces := p.locator.Detect(frame)
	if len(faces) == 0 {
		return nil, nil
	}

	sess := p.sessionFor(sessionKey)
	galleryEntries := p.gallery.Snapshot()
	results := make([]FaceResult, 0, len(faces))

	for _, rect := range faces {
		sess.mu.Lock()
		live := sess.ev.Check(frame, rect, nil)
		sess.mu.Unlock()
		if !live {
			facesRejected.WithLabelValues(ReasonLivenessFailed).Inc()
			results = append(results, FaceResult{Unrecognized: &UnrecognizedFace{
				Reason:   ReasonLivenessFailed,
				Location: rect,
			}})
			continue
		}

		vec, err := p.encoder.EncodeRegion(frame, rect)
		if err != nil {
			log.Printf("recognize: encode face at %v: %v", rect, err)
			facesRejected.WithLabelValues(ReasonUnknown).Inc()
			results = append(results, FaceResult{Unrecognized: &UnrecognizedFace{
				Reason:   ReasonUnknown,
				Location: rect,
			}})
			continue
		}

		match, ok := embedding.MatchVector(vec.Normalize(), galleryEntries, p.tolerance)
		if !ok {
			facesRejected.WithLabelValues(ReasonUnknown).Inc()
			results = append(results, FaceResult{Unrecognized: &UnrecognizedFace{
				Reason:   ReasonUnknown,
				Location: rect,
			}})
			continue
		}

		if courseID != 0 {
			enrolled, err := p.enrolled.IsEnrolled(ctx, match.StudentID, courseID)
			if err != nil {
				return results, err
			}
			if !enrolled {
				facesRejected.WithLabelValues(ReasonNotEnrolled).Inc()
				results = append(results, FaceResult{Unrecognized: &UnrecognizedFace{
					Reason:   ReasonNotEnrolled,
					Location: rect,
				}})
				continue
			}
		}

		facesRecognized.Inc()
		results = append(results, FaceResult{Recognized: &RecognizedFace{
			StudentID: match.StudentID,
			Name:      match.Name,
			Distance:  match.Distance,
			Location:  rect,
		}})
	}
	return results, nil
}

// EncodeFace implements the registration contract: detect a face in the
// image and return its raw embedding. A nil vector with nil error means no
// face was present.
func (p *Pipeline) EncodeFace(img gocv.Mat) (embedding.Vector, error) {
	faces := p.locator.Detect(img)
	if len(faces) == 0 {
		return nil, nil
	}
	return p.encoder.EncodeRegion(img, faces[0])
}

// ResetSession discards the key's liveness state. Call when a capture
// session ends; the next frame under the same key starts a fresh evaluator.
func (p *Pipeline) ResetSession(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, key)
}
