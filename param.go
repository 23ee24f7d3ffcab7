package ane

// param.go holds the run-time parameter machinery.  An ExpParameter names a
// kind of object, a list of attributes an object must match, a parameter and a
// value.  Parameters are applied most-general-first so that a value given for a
// named object overrides one given by wildcard.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// AttrbStruct holds the name of an attribute and a value for it
type AttrbStruct struct {
	AttrbName  string `json:"attrbname" yaml:"attrbname"`
	AttrbValue string `json:"attrbvalue" yaml:"attrbvalue"`
}

// CreateAttrbStruct is a constructor
func CreateAttrbStruct(attrbName, attrbValue string) *AttrbStruct {
	return &AttrbStruct{AttrbName: attrbName, AttrbValue: attrbValue}
}

// A valueStruct holds the interpretations a string-encoded value might have.
// Which one is used is known by the parameter it is assigned to.
type valueStruct struct {
	intValue    int
	floatValue  float64
	stringValue string
	boolValue   bool
	rawValue    string
}

// stringToValueStruct takes a string (used in the run-time configuration phase)
// and determines whether it is an integer, floating point, boolean or a string
func stringToValueStruct(v string) valueStruct {
	vs := valueStruct{rawValue: v}

	ivalue, ierr := strconv.Atoi(v)
	if ierr == nil {
		vs.intValue = ivalue
		vs.floatValue = float64(ivalue)
		return vs
	}

	fvalue, ferr := strconv.ParseFloat(v, 64)
	if ferr == nil {
		vs.floatValue = fvalue
		vs.intValue = int(fvalue)
		return vs
	}

	if v == "true" || v == "True" || v == "TRUE" || v == "yes" {
		vs.boolValue = true
		return vs
	}

	vs.stringValue = v
	return vs
}

// CompareAttrbs returns -1 if the first argument is strictly more general than the second,
// returns 1 if the second argument is strictly more general than the first, and 0 otherwise
func CompareAttrbs(attrbs1, attrbs2 []AttrbStruct) int {
	covers := func(general, specific []AttrbStruct) bool {
		for _, attrb := range general {
			found := slices.ContainsFunc(specific, func(other AttrbStruct) bool {
				return other.AttrbName == attrb.AttrbName
			})
			if !found {
				return false
			}
		}
		return true
	}

	if len(attrbs1) < len(attrbs2) && covers(attrbs1, attrbs2) {
		return -1
	}
	if len(attrbs2) < len(attrbs1) && covers(attrbs2, attrbs1) {
		return 1
	}
	return 0
}

// EqAttrbs determines whether the two attribute lists hold the same (name, value) pairs
func EqAttrbs(attrbs1, attrbs2 []AttrbStruct) bool {
	if len(attrbs1) != len(attrbs2) {
		return false
	}
	for _, attrb := range attrbs1 {
		if !slices.Contains(attrbs2, attrb) {
			return false
		}
	}
	for _, attrb := range attrbs2 {
		if !slices.Contains(attrbs1, attrb) {
			return false
		}
	}
	return true
}

// An ExpParameter struct describes an input to experiment configuration at run-time.
//   - ParamObj identifies the kind of thing being configured : Domain, Station or Flow
//   - Attributes is a list of attributes, each of which an object must have for the value to be applied.
//     "*" is a wild-card; "name" selects one object by its name.
type ExpParameter struct {
	ParamObj   string        `json:"paramObj" yaml:"paramObj"`
	Attributes []AttrbStruct `json:"attributes" yaml:"attributes"`

	// Param may carry an instance index, e.g. "upstream-bandwidth[1]"
	Param string `json:"param" yaml:"param"`
	Value string `json:"value" yaml:"value"`
}

// CreateExpParameter is a constructor.  Completely fills in the struct with the [ExpParameter] attributes.
func CreateExpParameter(paramObj string, attributes []AttrbStruct, param, value string) *ExpParameter {
	return &ExpParameter{ParamObj: paramObj, Attributes: attributes, Param: param, Value: value}
}

// Eq returns a boolean flag indicating whether the two ExpParameters referenced in the call are the same
func (epp *ExpParameter) Eq(ep2 *ExpParameter) bool {
	return epp.ParamObj == ep2.ParamObj && EqAttrbs(epp.Attributes, ep2.Attributes) &&
		epp.Param == ep2.Param && epp.Value == ep2.Value
}

// AddAttribute includes another attribute to those associated with the ExpParameter.
// An error is returned if the attribute name (other than 'group') already exists
func (epp *ExpParameter) AddAttribute(attrbName, attrbValue string) error {
	if !ValidateAttribute(epp.ParamObj, attrbName) {
		return fmt.Errorf("attribute name %s not allowed for parameter object type %s", attrbName, epp.ParamObj)
	}
	for _, attrb := range epp.Attributes {
		if attrb.AttrbName == attrbName && attrb.AttrbValue == attrbValue {
			return nil
		}
		if attrb.AttrbName == attrbName && attrbName != "group" {
			return fmt.Errorf("attribute name %s already exists for parameter object", attrbName)
		}
	}
	epp.Attributes = append(epp.Attributes, *CreateAttrbStruct(attrbName, attrbValue))
	return nil
}

// An ExpCfg structure holds all of the ExpParameters for a named experiment
type ExpCfg struct {
	Name       string         `json:"expname" yaml:"expname"`
	Parameters []ExpParameter `json:"parameters" yaml:"parameters"`
}

// CreateExpCfg is a constructor. Saves the offered Name and initializes the slice of ExpParameters.
func CreateExpCfg(name string) *ExpCfg {
	return &ExpCfg{Name: name, Parameters: make([]ExpParameter, 0)}
}

// AddExpParameter appends an already built ExpParameter
func (excfg *ExpCfg) AddExpParameter(exparam *ExpParameter) {
	excfg.Parameters = append(excfg.Parameters, *exparam)
}

// AddParameter validates the four values of an ExpParameter, creates one, and adds it to the list
func (excfg *ExpCfg) AddParameter(paramObj string, attributes []AttrbStruct, param, value string) error {
	if err := ValidateParameter(paramObj, attributes, param); err != nil {
		return err
	}
	excfg.Parameters = append(excfg.Parameters, *CreateExpParameter(paramObj, attributes, param, value))
	return nil
}

// WriteToFile stores the ExpCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (excfg *ExpCfg) WriteToFile(filename string) error {
	return writeDescFile(filename, *excfg)
}

// ReadExpCfg deserializes a byte slice holding a representation of an ExpCfg struct.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.
func ReadExpCfg(filename string, useYAML bool, dict []byte) (*ExpCfg, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := ExpCfg{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// ExpParamObjs, ExpAttributes, and ExpParams describe the kinds of objects configured
// by an ExpCfg, the attributes tested to select them, and the parameters each accepts
var ExpParamObjs []string
var ExpAttributes map[string][]string
var ExpParams map[string][]string

// GetExpParamDesc returns ExpParamObjs, ExpAttributes, and ExpParams after ensuring that they have been built
func GetExpParamDesc() ([]string, map[string][]string, map[string][]string) {
	if ExpParamObjs == nil {
		ExpParamObjs = []string{"Domain", "Station", "Flow"}
		ExpAttributes = make(map[string][]string)
		ExpAttributes["Domain"] = []string{"name", "group", "type", "mode", "model", "*"}
		ExpAttributes["Station"] = []string{"name", "group", "domain", "node", "headend", "*"}
		ExpAttributes["Flow"] = []string{"name", "group", "src", "*"}
		ExpParams = make(map[string][]string)
		ExpParams["Domain"] = []string{"bandwidth", "propagation-delay", "header-size",
			"satellite-architecture", "upstream-count", "upstream-group", "upstream-bandwidth",
			"upstream-mac-latency", "downstream-bandwidth", "downstream-mac-latency",
			"propagation-latency", "trace"}
		ExpParams["Station"] = []string{"uplink-channel", "traffic-conditioning", "bandwidth-limit",
			"bandwidth-minimum", "drop-ratio", "promiscuous", "trace"}
		ExpParams["Flow"] = []string{"rate", "frame-size", "priority", "distribution", "start", "stop"}
	}
	return ExpParamObjs, ExpAttributes, ExpParams
}

// ValidateAttribute checks that the attribute named is one that associates with the parameter object type named
func ValidateAttribute(paramObj, attrbName string) bool {
	GetExpParamDesc()
	attrbs, present := ExpAttributes[paramObj]
	if !present {
		return false
	}
	return attrbName == "*" || slices.Contains(attrbs, attrbName)
}

// ValidateParameter returns an error if the paramObj, attributes, and param values don't
// make sense taken together within an ExpParameter
func ValidateParameter(paramObj string, attributes []AttrbStruct, param string) error {
	GetExpParamDesc()
	if !slices.Contains(ExpParamObjs, paramObj) {
		return fmt.Errorf("parameter paramObj %s is not recognized", paramObj)
	}

	for _, attrb := range attributes {
		if (attrb.AttrbName == "*" || attrb.AttrbName == "name") && len(attributes) != 1 {
			return fmt.Errorf("parameter attribute %s for paramObj %s is included with more attributes",
				attrb.AttrbName, paramObj)
		}
		if !ValidateAttribute(paramObj, attrb.AttrbName) {
			return fmt.Errorf("parameter attribute %s is not recognized for paramObj %s", attrb.AttrbName, paramObj)
		}
	}

	base, _ := splitInstanceParam(param)
	if !slices.Contains(ExpParams[paramObj], base) {
		return fmt.Errorf("parameter %s is not recognized for paramObj %s", param, paramObj)
	}
	return nil
}

// splitInstanceParam separates "name[idx]" into name and idx; idx is -1 when absent
func splitInstanceParam(param string) (string, int) {
	base, rest, found := strings.Cut(param, "[")
	if !found {
		return param, -1
	}
	idx, err := strconv.Atoi(strings.TrimSuffix(rest, "]"))
	if err != nil {
		return param, -1
	}
	return base, idx
}

func instanceParam(param string, idx int) string {
	return fmt.Sprintf("%s[%d]", param, idx)
}

// reorderExpParams puts the ExpParameters in an order such that elements with a broader
// range of application appear before those that apply to fewer objects.  Wildcards come
// first, then attribute lists (more general before less general), then named objects.
// Duplicates are removed.
func reorderExpParams(pL []ExpParameter) []ExpParameter {
	wc := []ExpParameter{}
	nm := []ExpParameter{}
	sg := []ExpParameter{}

	for _, param := range pL {
		switch {
		case slices.ContainsFunc(param.Attributes, func(a AttrbStruct) bool { return a.AttrbName == "*" }):
			wc = append(wc, param)
		case slices.ContainsFunc(param.Attributes, func(a AttrbStruct) bool { return a.AttrbName == "name" }):
			nm = append(nm, param)
		default:
			sg = append(sg, param)
		}
	}

	byParamValue := func(pi, pj ExpParameter) bool {
		if pi.Param != pj.Param {
			return pi.Param < pj.Param
		}
		return pi.Value < pj.Value
	}

	sort.SliceStable(wc, func(i, j int) bool { return byParamValue(wc[i], wc[j]) })

	sort.SliceStable(sg, func(i, j int) bool {
		compared := CompareAttrbs(sg[i].Attributes, sg[j].Attributes)
		if compared != 0 {
			return compared == -1
		}
		return byParamValue(sg[i], sg[j])
	})

	sort.SliceStable(nm, func(i, j int) bool { return byParamValue(nm[i], nm[j]) })

	wc = append(wc, sg...)
	wc = append(wc, nm...)

	// get rid of duplicates
	for idx := len(wc) - 1; idx > 0; idx-- {
		if wc[idx].Eq(&wc[idx-1]) {
			wc = append(wc[:idx], wc[idx+1:]...)
		}
	}
	return wc
}

// paramObj is satisfied by every object that can be configured at run-time
type paramObj interface {
	matchParam(string, string) bool
	setParam(string, valueStruct)
	paramObjName() string
}

// applyParameters takes the parameters of an ExpCfg and assigns them to the
// objects they match, in greatest-to-least application order
func applyParameters(expCfg *ExpCfg, objs map[string][]paramObj) error {
	if expCfg == nil {
		return nil
	}
	GetExpParamDesc()

	grouped := make(map[string][]ExpParameter)
	errs := []error{}
	for _, param := range expCfg.Parameters {
		if err := ValidateParameter(param.ParamObj, param.Attributes, param.Param); err != nil {
			errs = append(errs, err)
			continue
		}
		grouped[param.ParamObj] = append(grouped[param.ParamObj], param)
	}
	if len(errs) > 0 {
		return ReportErrs(errs)
	}

	for _, objType := range ExpParamObjs {
		for _, param := range reorderExpParams(grouped[objType]) {
			vs := stringToValueStruct(param.Value)
			for _, obj := range objs[objType] {
				if paramMatches(obj, param.Attributes) {
					obj.setParam(param.Param, vs)
				}
			}
		}
	}
	return nil
}

// paramMatches is true if obj has every attribute in the list.  "*" matches any object.
func paramMatches(obj paramObj, attrbs []AttrbStruct) bool {
	for _, attrb := range attrbs {
		if attrb.AttrbName == "*" {
			continue
		}
		if !obj.matchParam(attrb.AttrbName, attrb.AttrbValue) {
			return false
		}
	}
	return true
}

// paramBag holds the parameter values assigned to one configurable object
type paramBag map[string]valueStruct

func (pb paramBag) lookup(key string) (valueStruct, bool) {
	vs, present := pb[key]
	if present {
		return vs, true
	}
	// an instance parameter falls back to the un-indexed one
	base, idx := splitInstanceParam(key)
	if idx >= 0 {
		vs, present = pb[base]
	}
	return vs, present
}

// readFloat returns the configured value of key, or dflt with a warning
func (pb paramBag) readFloat(owner, key string, dflt float64) float64 {
	vs, present := pb.lookup(key)
	if !present {
		logrus.Warnf("%s: %s not configured, using default %g", owner, key, dflt)
		return dflt
	}
	return vs.floatValue
}

// readInt returns the configured value of key, or dflt with a warning
func (pb paramBag) readInt(owner, key string, dflt int) int {
	vs, present := pb.lookup(key)
	if !present {
		logrus.Warnf("%s: %s not configured, using default %d", owner, key, dflt)
		return dflt
	}
	return vs.intValue
}

// readString returns the configured value of key, or dflt with a warning
func (pb paramBag) readString(owner, key string, dflt string) string {
	vs, present := pb.lookup(key)
	if !present {
		logrus.Warnf("%s: %s not configured, using default %s", owner, key, dflt)
		return dflt
	}
	return vs.rawValue
}

// readBool returns the configured value of key, false when absent
func (pb paramBag) readBool(key string) bool {
	vs, present := pb.lookup(key)
	return present && vs.boolValue
}

func (pb paramBag) has(key string) bool {
	_, present := pb.lookup(key)
	return present
}

// writeDescFile serializes obj to json or yaml, selected by the extension of filename
func writeDescFile(filename string, obj any) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	switch pathExt {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(obj)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(obj, "", "\t")
	default:
		return fmt.Errorf("file %s: extension must be .yaml, .yml or .json", filename)
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0o644)
}

// useYAMLFor reports whether a file is yaml, by extension
func useYAMLFor(filename string) bool {
	ext := path.Ext(filename)
	return ext == ".yaml" || ext == ".yml" || ext == ".YAML"
}
