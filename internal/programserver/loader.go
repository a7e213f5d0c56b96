package programserver

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"saxis/internal/motion"
	"saxis/internal/protocol"
)

// ErrJointLimit is returned when a waypoint exceeds a joint's limits.
var ErrJointLimit = stderrors.New("joint limit exceeded")

// sceneFile is the YAML layout of the scene file.
//
//	robot:
//	  - {axis: z, width: 1.5, length: 1, min: -170, max: 170}
//	pose: [0]
type sceneFile struct {
	Robot []struct {
		Axis   string  `yaml:"axis"`
		Width  float64 `yaml:"width"`
		Length float64 `yaml:"length"`
		Min    float64 `yaml:"min"`
		Max    float64 `yaml:"max"`
	} `yaml:"robot"`
	Pose []float64   `yaml:"pose"`
	Path [][]float64 `yaml:"path"`
}

// programFile is the YAML layout of one program. Name defaults to the file
// name without extension.
//
//	name: wave
//	segments:
//	  - - {frac: 0.5, j: [0.2]}
//	    - {frac: 1.0, j: [0.4]}
type programFile struct {
	Name     string `yaml:"name"`
	Segments [][]struct {
		Frac float64   `yaml:"frac"`
		J    []float64 `yaml:"j"`
	} `yaml:"segments"`
}

// LoadScene reads the robot description and initial pose from path.
func LoadScene(path string) (protocol.Scene, error) {
	var f sceneFile
	if err := decodeFile(path, &f); err != nil {
		return protocol.Scene{}, err
	}

	scene := protocol.Scene{Pose: protocol.WirePose{J: f.Pose}}
	for _, j := range f.Robot {
		scene.Robot = append(scene.Robot, protocol.WireJoint{
			Width:  j.Width,
			Length: j.Length,
			Min:    j.Min,
			Max:    j.Max,
			Axis:   j.Axis,
		})
	}
	for i, p := range f.Path {
		if len(p) != 3 {
			return protocol.Scene{}, errors.Errorf("%s: path point %d has %d coordinates", path, i, len(p))
		}
		scene.Path = append(scene.Path, [3]float64{p[0], p[1], p[2]})
	}

	spec, err := scene.JointSpec()
	if err != nil {
		return protocol.Scene{}, errors.Wrap(err, path)
	}
	if len(scene.Pose.J) != len(spec) {
		return protocol.Scene{}, errors.Errorf("%s: pose has %d joints, robot has %d", path, len(scene.Pose.J), len(spec))
	}
	if err := CheckLimits(spec, scene.Pose.J); err != nil {
		return protocol.Scene{}, errors.Wrapf(err, "%s: pose", path)
	}
	return scene, nil
}

// LoadLibrary reads every *.yaml and *.yml file in dir, in file name order,
// and validates each program against spec.
func LoadLibrary(dir string, spec motion.JointSpec) ([]LibraryProgram, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read program dir %s", dir)
	}

	var lib []LibraryProgram
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		p, err := loadProgram(path, spec)
		if err != nil {
			return nil, err
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		}
		lib = append(lib, p)
	}
	return lib, nil
}

func loadProgram(path string, spec motion.JointSpec) (LibraryProgram, error) {
	var f programFile
	if err := decodeFile(path, &f); err != nil {
		return LibraryProgram{}, err
	}

	p := LibraryProgram{Name: f.Name}
	for _, s := range f.Segments {
		paces := make([]protocol.Pace, 0, len(s))
		for _, wp := range s {
			paces = append(paces, protocol.Pace{Frac: wp.Frac, J: wp.J})
		}
		p.Segments = append(p.Segments, paces)
	}

	if err := protocol.ToProgram(0, p.Segments).Validate(len(spec)); err != nil {
		return LibraryProgram{}, errors.Wrap(err, path)
	}
	for i, s := range p.Segments {
		for k, wp := range s {
			if err := CheckLimits(spec, wp.J); err != nil {
				return LibraryProgram{}, errors.Wrapf(err, "%s: segment %d waypoint %d", path, i, k)
			}
		}
	}
	return p, nil
}

// CheckLimits reports an error wrapping ErrJointLimit if any angle in j
// (radians) lies outside its joint's Min..Max range (degrees). Joints with
// Min == Max are unconstrained.
func CheckLimits(spec motion.JointSpec, j []float64) error {
	for i, rad := range j {
		if i >= len(spec) {
			break
		}
		lim := spec[i]
		if lim.Min == lim.Max {
			continue
		}
		deg := s1.Angle(rad).Degrees()
		if deg < lim.Min || deg > lim.Max {
			return fmt.Errorf("joint %d at %.2f° outside [%g, %g]: %w", i, deg, lim.Min, lim.Max, ErrJointLimit)
		}
	}
	return nil
}

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	return nil
}
