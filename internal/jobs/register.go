package jobs

import "github.com/ternarybob/tego/internal/engine"

// Register binds every job type the pipeline descriptions can reference.
// Names follow the module-qualified form the descriptions use.
func Register(registry *engine.Registry, deps *Dependencies) error {
	empty := func(name string, env *engine.Env, args engine.Args) engine.Job {
		return engine.NewEmptyJob()
	}
	factories := []struct {
		jobType string
		factory engine.Factory
	}{
		{"RequestPong", engine.NewRequestPong},
		{"DataPong", NewDataPong},
		{"ResultsPong", NewResultsPong},
		{"ModelPong", NewModelPong},
		{"DummyJob", NewDummyJob},
		{"DummyGeneratorJob", NewDummyGeneratorFactory(registry)},
		{"Empty", empty},

		{"policies.ReadPrivacyPolicy", NewReadPrivacyPolicy},
		{"policies.ReadHierarchyPolicy", NewReadHierarchyPolicy},

		{"context.StoreRequest", NewStoreRequestFactory(deps.Contexts)},

		{"arxlet.FromPrivacyPolicy", NewARXletFromPrivacyPolicyFactory(deps)},
		{"arxlet.FromPets", NewARXletFromPetsFactory(deps)},
		{"arxlet.KAnonymity", NewKAnonymityFactory(deps)},
		{"arxlet.DistinctLDiversity", NewDistinctLDiversityFactory(deps)},
		{"arxlet.EntropyLDiversity", NewEntropyLDiversityFactory(deps)},
		{"arxlet.RecursiveCLDiversity", NewRecursiveCLDiversityFactory(deps)},
		{"arxlet.HierarchicalTCloseness", NewHierarchicalTClosenessFactory(deps)},
		{"arxlet.OrderedTCloseness", NewOrderedTClosenessFactory(deps)},
		{"arxlet.KMap", NewKMapFactory(deps)},

		{"flaskdp.FromPrivacyPolicy", NewFlaskDPFromPrivacyPolicyFactory(deps)},
		{"flaskdp.FromTechnique", NewFlaskDPFromTechniqueFactory(deps)},
		{"flaskdp.Laplace", NewLaplaceFactory(deps)},
		{"flaskdp.LaplaceTruncated", NewLaplaceTruncatedFactory(deps)},
		{"flaskdp.LaplaceBoundedDomain", NewLaplaceBoundedDomainFactory(deps)},
		{"flaskdp.LaplaceBoundedNoise", NewLaplaceBoundedNoiseFactory(deps)},
		{"flaskdp.Gaussian", NewGaussianFactory(deps)},
		{"flaskdp.GaussianAnalytic", NewGaussianAnalyticFactory(deps)},

		{"local.ApplyAnonymizationLevel", NewApplyAnonymizationLevelFactory(deps)},
		{"local.ApplyPGPEncryption", NewApplyPGPEncryptionFactory(deps)},
		{"local.FromPets", NewLocalFromPetsFactory(deps)},
		{"local.FromPrivacyPolicy", NewLocalFromPrivacyPolicyFactory(deps)},

		{"misp.MispPong", NewModelPong},
		{"misp.UpdateEvent", NewUpdateEvent},
		{"misp.PostEvent", NewPostEventFactory(deps)},
		{"misp.ExtractEventFromEventAnon", NewExtractEventFromEventAnon},

		{"mqtt.Publish", NewMQTTPublishFactory(deps)},

		{"stix.StixPong", NewStixPong},
		{"stix.TransformMISPEvent", NewTransformMISPEvent},
	}
	for _, entry := range factories {
		if err := registry.Register(entry.jobType, entry.factory); err != nil {
			return err
		}
	}
	return nil
}
